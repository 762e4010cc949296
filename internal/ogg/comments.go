package ogg

import (
	"encoding/binary"
	"strings"
)

// ParseComments decodes a Vorbis comment block (vendor string followed by
// KEY=value entries). Keys are lower-cased; the first value of a key wins.
func ParseComments(data []byte) map[string]string {
	comments := make(map[string]string)
	if len(data) < 4 {
		return comments
	}

	vendorLen := int(binary.LittleEndian.Uint32(data[0:4]))
	pos := 4 + vendorLen
	if vendorLen < 0 || pos+4 > len(data) {
		return comments
	}

	count := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	for i := 0; i < count && pos+4 <= len(data); i++ {
		n := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			break
		}
		comment := string(data[pos : pos+n])
		pos += n

		if idx := strings.IndexByte(comment, '='); idx > 0 {
			key := strings.ToLower(comment[:idx])
			if _, seen := comments[key]; !seen {
				comments[key] = comment[idx+1:]
			}
		}
	}
	return comments
}
