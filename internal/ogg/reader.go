// Package ogg reads Ogg pages and reassembles logical-stream packets.
package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var (
	errInvalidMagic   = errors.New("ogg: invalid capture pattern")
	errInvalidVersion = errors.New("ogg: unsupported version")
)

const (
	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04

	headerSize = 27
)

var capture = []byte("OggS")

// PageHeader is the fixed part of an Ogg page.
type PageHeader struct {
	Flags        byte
	GranulePos   int64
	SerialNumber uint32
	SequenceNum  uint32
	SegmentTable []uint8
}

func (h *PageHeader) Continued() bool { return h.Flags&flagContinued != 0 }
func (h *PageHeader) BOS() bool       { return h.Flags&flagBOS != 0 }
func (h *PageHeader) EOS() bool       { return h.Flags&flagEOS != 0 }

// BodySize is the total length of the page payload.
func (h *PageHeader) BodySize() int {
	n := 0
	for _, s := range h.SegmentTable {
		n += int(s)
	}
	return n
}

// ReadPageHeader reads and parses an Ogg page header from r.
func ReadPageHeader(r io.Reader) (*PageHeader, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return parseHeader(buf[:], r)
}

func parseHeader(buf []byte, r io.Reader) (*PageHeader, error) {
	if !bytes.Equal(buf[0:4], capture) {
		return nil, errInvalidMagic
	}
	if buf[4] != 0 {
		return nil, errInvalidVersion
	}

	hdr := &PageHeader{
		Flags:        buf[5],
		GranulePos:   int64(binary.LittleEndian.Uint64(buf[6:14])),
		SerialNumber: binary.LittleEndian.Uint32(buf[14:18]),
		SequenceNum:  binary.LittleEndian.Uint32(buf[18:22]),
		// checksum at buf[22:26] is not verified
	}
	if n := buf[26]; n > 0 {
		hdr.SegmentTable = make([]uint8, n)
		if _, err := io.ReadFull(r, hdr.SegmentTable); err != nil {
			return nil, err
		}
	}
	return hdr, nil
}

// Packet is one complete packet of a logical stream.
type Packet struct {
	Serial uint32
	Data   []byte
	// Granule is the page granule position when this packet was the last one
	// completed on its page, otherwise -1.
	Granule int64
	BOS     bool
	EOS     bool
}

// Reader yields packets from all logical streams in file order.
type Reader struct {
	r       io.Reader
	pending []Packet
	partial map[uint32][]byte
	// LastHeader is the header of the most recently read page.
	LastHeader *PageHeader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, partial: make(map[uint32][]byte)}
}

// Reset drops buffered packets and partial data, e.g. after the underlying
// reader was repositioned.
func (r *Reader) Reset() {
	r.pending = r.pending[:0]
	clear(r.partial)
}

// ReadPacket returns the next complete packet of any logical stream.
func (r *Reader) ReadPacket() (Packet, error) {
	for len(r.pending) == 0 {
		if err := r.readPage(); err != nil {
			return Packet{}, err
		}
	}
	p := r.pending[0]
	r.pending = r.pending[1:]
	return p, nil
}

func (r *Reader) readPage() error {
	hdr, err := ReadPageHeader(r.r)
	if err != nil {
		return err
	}
	body := make([]byte, hdr.BodySize())
	if _, err := io.ReadFull(r.r, body); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return err
	}
	r.LastHeader = hdr

	serial := hdr.SerialNumber
	cur, ok := r.partial[serial]
	if !hdr.Continued() {
		cur = nil
	}
	delete(r.partial, serial)
	// a continuation whose head was never seen (after Reset) is dropped
	orphan := hdr.Continued() && !ok

	var completed []Packet
	off := 0
	for _, seg := range hdr.SegmentTable {
		cur = append(cur, body[off:off+int(seg)]...)
		off += int(seg)
		if seg < 255 && orphan {
			orphan = false
			cur = nil
			continue
		}
		if seg < 255 {
			completed = append(completed, Packet{
				Serial:  serial,
				Data:    cur,
				Granule: -1,
				BOS:     hdr.BOS(),
			})
			cur = nil
		}
	}
	if cur != nil && !orphan {
		r.partial[serial] = cur
	}
	if n := len(completed); n > 0 {
		completed[n-1].Granule = hdr.GranulePos
		completed[n-1].EOS = hdr.EOS()
	}
	r.pending = append(r.pending, completed...)
	return nil
}

// LastGranule scans backwards from the end of rs for the last page of serial
// and returns its granule position.
func LastGranule(rs io.ReadSeeker, size int64, serial uint32) (int64, error) {
	const window = 64 << 10
	end := size
	for end > 0 {
		start := end - window
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := rs.Seek(start, io.SeekStart); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(rs, buf); err != nil {
			return 0, err
		}
		for i := bytes.LastIndex(buf, capture); i >= 0; i = bytes.LastIndex(buf[:i], capture) {
			if len(buf)-i < headerSize {
				continue
			}
			page := buf[i : i+headerSize]
			if page[4] != 0 {
				continue
			}
			granule := int64(binary.LittleEndian.Uint64(page[6:14]))
			if binary.LittleEndian.Uint32(page[14:18]) == serial && granule >= 0 {
				return granule, nil
			}
		}
		if start == 0 {
			break
		}
		// overlap so a header split across windows is seen whole
		end = start + headerSize
	}
	return 0, io.EOF
}

// SeekGranule scans page headers of serial from the start of rs and returns
// the offset of the last page whose data starts at or before target, with
// the granule position its data starts at. rs is left at that offset.
func SeekGranule(rs io.ReadSeeker, serial uint32, target int64) (int64, int64, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	var off, prev, bestOff, bestGranule int64
	for {
		hdr, err := ReadPageHeader(rs)
		if err != nil {
			break
		}
		body := int64(hdr.BodySize())
		if hdr.SerialNumber == serial && hdr.GranulePos >= 0 {
			if prev <= target {
				bestOff, bestGranule = off, prev
			}
			if hdr.GranulePos > target {
				break
			}
			prev = hdr.GranulePos
		}
		if _, err := rs.Seek(body, io.SeekCurrent); err != nil {
			return 0, 0, err
		}
		off += headerSize + int64(len(hdr.SegmentTable)) + body
	}
	if _, err := rs.Seek(bestOff, io.SeekStart); err != nil {
		return 0, 0, err
	}
	return bestOff, bestGranule, nil
}
