package ogg

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPage encodes one page; a packet whose length is a multiple of 255 and
// is the last on the page is left open (continued on the next page) when
// open is set.
func buildPage(flags byte, granule int64, serial, seq uint32, open bool, packets ...[]byte) []byte {
	var lacing []byte
	var body []byte
	for i, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		if !(open && i == len(packets)-1) {
			lacing = append(lacing, byte(n))
		}
		body = append(body, p...)
	}
	hdr := make([]byte, headerSize)
	copy(hdr, capture)
	hdr[5] = flags
	binary.LittleEndian.PutUint64(hdr[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(hdr[14:18], serial)
	binary.LittleEndian.PutUint32(hdr[18:22], seq)
	hdr[26] = byte(len(lacing))
	out := append(hdr, lacing...)
	return append(out, body...)
}

func TestReadPacketSplitsStreams(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildPage(flagBOS, 0, 1, 0, false, []byte("OpusHead-a")))
	buf.Write(buildPage(flagBOS, 0, 2, 0, false, []byte("\x01vorbis-b")))
	buf.Write(buildPage(0, 960, 1, 1, false, []byte("p1"), []byte("p2")))

	r := NewReader(&buf)
	p, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p.Serial)
	assert.True(t, p.BOS)

	p, err = r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), p.Serial)

	p, err = r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "p1", string(p.Data))
	assert.Equal(t, int64(-1), p.Granule)

	p, err = r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "p2", string(p.Data))
	assert.Equal(t, int64(960), p.Granule)

	_, err = r.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadPacketJoinsContinuedPages(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, 510)
	tail := []byte{1, 2, 3}

	var buf bytes.Buffer
	buf.Write(buildPage(0, -1, 7, 0, true, big))
	buf.Write(buildPage(flagContinued|flagEOS, 4096, 7, 1, false, tail))

	r := NewReader(&buf)
	p, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Len(t, p.Data, 513)
	assert.True(t, p.EOS)
	assert.Equal(t, int64(4096), p.Granule)
}

func TestReadPageHeaderRejectsGarbage(t *testing.T) {
	_, err := ReadPageHeader(bytes.NewReader(make([]byte, 40)))
	assert.ErrorIs(t, err, errInvalidMagic)
}

func TestLastGranule(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildPage(flagBOS, 0, 5, 0, false, []byte("head")))
	buf.Write(buildPage(0, 1000, 5, 1, false, []byte("a")))
	buf.Write(buildPage(0, 2000, 9, 0, false, []byte("other")))
	buf.Write(buildPage(flagEOS, 3000, 5, 2, false, []byte("b")))
	buf.Write(buildPage(flagEOS, 5000, 9, 1, false, []byte("c")))

	rs := bytes.NewReader(buf.Bytes())
	g, err := LastGranule(rs, int64(buf.Len()), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), g)

	_, err = LastGranule(rs, int64(buf.Len()), 42)
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseComments(t *testing.T) {
	var b bytes.Buffer
	put := func(s string) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		b.Write(n[:])
		b.WriteString(s)
	}
	put("vendor")
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], 3)
	b.Write(count[:])
	put("TITLE=Song")
	put("REPLAYGAIN_TRACK_GAIN=-3.2 dB")
	put("title=Second")

	c := ParseComments(b.Bytes())
	assert.Equal(t, "Song", c["title"])
	assert.Equal(t, "-3.2 dB", c["replaygain_track_gain"])
}

func TestResetDropsOrphanContinuation(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildPage(flagContinued, 2048, 3, 4, false, []byte("tail-of-old"), []byte("fresh")))

	r := NewReader(&buf)
	r.Reset()
	p, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(p.Data))
	assert.Equal(t, int64(2048), p.Granule)
}

func TestSeekGranule(t *testing.T) {
	pages := [][]byte{
		buildPage(flagBOS, 0, 5, 0, false, []byte("head")),
		buildPage(0, 0, 5, 1, false, []byte("tags")),
		buildPage(0, 960, 5, 2, false, []byte("a")),
		buildPage(0, 1920, 5, 3, false, []byte("b")),
		buildPage(flagEOS, 2880, 5, 4, false, []byte("c")),
	}
	var buf bytes.Buffer
	offsets := make([]int64, len(pages))
	for i, p := range pages {
		offsets[i] = int64(buf.Len())
		buf.Write(p)
	}
	rs := bytes.NewReader(buf.Bytes())

	off, g, err := SeekGranule(rs, 5, 1500)
	require.NoError(t, err)
	assert.Equal(t, offsets[3], off)
	assert.Equal(t, int64(960), g)

	pos, _ := rs.Seek(0, io.SeekCurrent)
	assert.Equal(t, offsets[3], pos)

	off, g, err = SeekGranule(rs, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, offsets[2], off)
	assert.Equal(t, int64(0), g)
}
