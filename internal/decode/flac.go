package decode

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

// flacDecoder emits planar chunks, one plane of packed samples per channel.
type flacDecoder struct {
	lifecycle
	file     *os.File
	stream   *flac.Stream
	format   media.SampleFormat
	channels int
	bps      int
}

func newFLACDecoder(res *probe.Result) (Decoder, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, media.OpenError(res.Path, err)
	}
	stream, err := flac.NewSeek(f)
	if err != nil {
		f.Close()
		return nil, media.DecodeError(res.Path, errors.Wrap(err, "decoding FLAC"))
	}
	bps := int(stream.Info.BitsPerSample)
	return &flacDecoder{
		file:     f,
		stream:   stream,
		format:   media.IntFormatForBits(bps),
		channels: int(stream.Info.NChannels),
		bps:      bps,
	}, nil
}

func (d *flacDecoder) NextChunk() (Chunk, error) {
	frame, err := d.stream.ParseNext()
	if err == io.EOF {
		d.exhausted()
		return Chunk{}, io.EOF
	}
	if err != nil {
		return Chunk{}, media.DecodeError(d.file.Name(), err)
	}
	d.draining()

	if len(frame.Subframes) < d.channels {
		return Chunk{}, media.DecodeError(d.file.Name(), errors.Errorf("frame has %d subframes, want %d", len(frame.Subframes), d.channels))
	}
	n := int(frame.Subframes[0].NSamples)
	width := d.format.Bytes()
	planes := make([][]byte, d.channels)
	for ch := 0; ch < d.channels; ch++ {
		plane := make([]byte, n*width)
		samples := frame.Subframes[ch].Samples
		for i := 0; i < n && i < len(samples); i++ {
			putInt(plane[i*width:], d.format, samples[i], d.bps)
		}
		planes[ch] = plane
	}
	return Chunk{
		Data:   planes,
		Format: d.format,
		Planar: true,
		Frames: n,
		Order:  binary.LittleEndian,
	}, nil
}

// putInt stores a bps-wide signed sample into the container format,
// left-justified so that e.g. 20-bit audio fills a 24-bit slot.
func putInt(dst []byte, f media.SampleFormat, v int32, bps int) {
	shift := f.Bits() - bps
	if shift > 0 {
		v <<= uint(shift)
	}
	switch f {
	case media.FormatU8:
		dst[0] = byte(int8(v)) + 0x80
	case media.FormatS16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
	case media.FormatS24:
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
	case media.FormatS32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	}
}

func (d *flacDecoder) SeekFrame(frame int64) (int64, error) {
	if frame < 0 {
		frame = 0
	}
	if total := int64(d.stream.Info.NSamples); total > 0 && frame >= total {
		// past the end: the next chunk reports EOF
		frame = total - 1
	}
	landed, err := d.stream.Seek(uint64(frame))
	if err != nil {
		return 0, media.SeekError(err)
	}
	d.rewound()
	return int64(landed), nil
}

func (d *flacDecoder) Close() error {
	_ = d.stream.Close()
	if err := d.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
