package probe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

// MP3DecoderDelay is the decoder delay added to the LAME encoder delay.
const MP3DecoderDelay = 529

var (
	mp3BitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mp3BitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
	mp3RatesV1    = [4]int{44100, 48000, 32000, 0}
)

type mp3FrameHeader struct {
	mpeg1         bool
	sampleRate    int
	channels      int
	bitrateKbps   int
	crcBytes      int
	sideInfoBytes int
}

// samplesPerFrame is fixed for layer III.
func (h mp3FrameHeader) samplesPerFrame() int64 {
	if h.mpeg1 {
		return 1152
	}
	return 576
}

func probeMP3(f *os.File, size int64) (*Result, error) {
	offset, err := firstMP3FrameOffset(f)
	if err != nil {
		return nil, errors.Wrap(err, "locating first MP3 frame")
	}
	offset, hdr, err := syncMP3Frame(f, offset)
	if err != nil {
		return nil, err
	}

	xing, hasXing := readXingHeader(f, offset, hdr)

	s := Stream{
		Type:          "audio",
		Codec:         "mp3",
		SampleRate:    hdr.sampleRate,
		Channels:      hdr.channels,
		BitsPerSample: 16,
		SampleFormat:  media.FormatS16,
		ChannelMask:   media.DefaultChannelMask(hdr.channels),
		TimeBaseNum:   1,
		TimeBaseDen:   int64(hdr.sampleRate),
		Default:       true,
	}

	var frames int64
	if hasXing && xing.frames > 0 {
		frames = xing.frames * hdr.samplesPerFrame()
	} else {
		s.BitRate = int64(hdr.bitrateKbps) * 1000
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if dec, err := mp3.NewDecoder(f); err == nil {
				// go-mp3 reports bytes of 16-bit stereo output
				frames = dec.Length() / 4
			}
		}
	}

	res := &Result{
		Container:  "mp3",
		DataOffset: -1,
		Backend:    "native",
	}
	if hasXing && (xing.delay > 0 || xing.padding > 0) {
		res.Gapless = Gapless{Start: xing.delay + MP3DecoderDelay, End: xing.padding - MP3DecoderDelay}
		if res.Gapless.End < 0 {
			res.Gapless.End = 0
		}
	}
	if frames > 0 {
		s.Duration = frames - res.Gapless.Start - res.Gapless.End
		if s.Duration < 0 {
			s.Duration = 0
		}
	}
	res.Streams = []Stream{s}
	return res, nil
}

// firstMP3FrameOffset skips a leading ID3v2 tag.
func firstMP3FrameOffset(f io.ReadSeeker) (int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	header := make([]byte, 10)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	if n < 10 {
		return 0, io.ErrUnexpectedEOF
	}
	if bytes.Equal(header[:3], []byte("ID3")) {
		size := synchsafeUint32(header[6:10])
		footer := 0
		if header[5]&0x10 != 0 {
			footer = 10
		}
		return int64(10 + size + footer), nil
	}
	return 0, nil
}

func synchsafeUint32(b []byte) int {
	return int(b[0]&0x7f)<<21 | int(b[1]&0x7f)<<14 | int(b[2]&0x7f)<<7 | int(b[3]&0x7f)
}

// syncMP3Frame searches forward from offset for a valid layer III header.
func syncMP3Frame(f io.ReadSeeker, offset int64) (int64, mp3FrameHeader, error) {
	const searchLimit = 64 << 10
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, mp3FrameHeader{}, err
	}
	buf := make([]byte, searchLimit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, mp3FrameHeader{}, errors.Wrap(err, "reading MP3 data")
	}
	buf = buf[:n]
	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] != 0xFF || buf[i+1]&0xE0 != 0xE0 {
			continue
		}
		if hdr, err := parseMP3FrameHeader(buf[i : i+4]); err == nil {
			return offset + int64(i), hdr, nil
		}
	}
	return 0, mp3FrameHeader{}, errors.New("no MP3 frame header found")
}

func parseMP3FrameHeader(b []byte) (mp3FrameHeader, error) {
	if len(b) < 4 {
		return mp3FrameHeader{}, errors.New("short mp3 header")
	}
	h := binary.BigEndian.Uint32(b)
	if h>>21 != 0x7ff {
		return mp3FrameHeader{}, errors.New("invalid mp3 sync")
	}

	versionID := (h >> 19) & 0x3
	layer := (h >> 17) & 0x3
	protectionBit := (h >> 16) & 0x1
	bitrateIndex := (h >> 12) & 0xf
	rateIndex := (h >> 10) & 0x3
	channelMode := (h >> 6) & 0x3

	if layer != 0x1 {
		return mp3FrameHeader{}, errors.New("not layer iii")
	}
	if versionID == 0x1 {
		return mp3FrameHeader{}, errors.New("reserved mpeg version")
	}
	if rateIndex == 0x3 || bitrateIndex == 0xf {
		return mp3FrameHeader{}, errors.New("invalid mp3 header fields")
	}

	hdr := mp3FrameHeader{mpeg1: versionID == 0x3, channels: 2}
	isMono := channelMode == 0x3
	if isMono {
		hdr.channels = 1
	}

	hdr.sampleRate = mp3RatesV1[rateIndex]
	switch versionID {
	case 0x2: // MPEG 2
		hdr.sampleRate /= 2
	case 0x0: // MPEG 2.5
		hdr.sampleRate /= 4
	}
	if hdr.mpeg1 {
		hdr.bitrateKbps = mp3BitratesV1[bitrateIndex]
	} else {
		hdr.bitrateKbps = mp3BitratesV2[bitrateIndex]
	}

	switch {
	case hdr.mpeg1 && isMono:
		hdr.sideInfoBytes = 17
	case hdr.mpeg1:
		hdr.sideInfoBytes = 32
	case isMono:
		hdr.sideInfoBytes = 9
	default:
		hdr.sideInfoBytes = 17
	}
	if protectionBit == 0 {
		hdr.crcBytes = 2
	}
	return hdr, nil
}

type xingHeader struct {
	frames  int64
	delay   int64
	padding int64
}

func readXingHeader(f io.ReadSeeker, frameOffset int64, hdr mp3FrameHeader) (xingHeader, bool) {
	at := frameOffset + 4 + int64(hdr.crcBytes+hdr.sideInfoBytes)
	if _, err := f.Seek(at, io.SeekStart); err != nil {
		return xingHeader{}, false
	}
	buf := make([]byte, 256)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return xingHeader{}, false
	}
	return parseXingHeader(buf[:n])
}

// parseXingHeader reads the frame count and the LAME encoder delay and
// padding from a Xing/Info tag.
func parseXingHeader(b []byte) (xingHeader, bool) {
	if len(b) < 8 {
		return xingHeader{}, false
	}
	tag := string(b[:4])
	if tag != "Xing" && tag != "Info" {
		return xingHeader{}, false
	}

	var x xingHeader
	flags := binary.BigEndian.Uint32(b[4:8])
	offset := 8
	if flags&0x1 != 0 {
		if len(b) < offset+4 {
			return xingHeader{}, false
		}
		x.frames = int64(binary.BigEndian.Uint32(b[offset : offset+4]))
		offset += 4
	}
	if flags&0x2 != 0 {
		offset += 4
	}
	if flags&0x4 != 0 {
		offset += 100
	}
	if flags&0x8 != 0 {
		offset += 4
	}
	if len(b) < offset+24 {
		return x, true
	}

	delayPadding := b[offset+21 : offset+24]
	x.delay = int64(delayPadding[0])<<4 | int64(delayPadding[1]>>4)
	x.padding = int64(delayPadding[1]&0x0f)<<8 | int64(delayPadding[2])
	return x, true
}
