package decode

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

// aiffDecoder reads big-endian AIFF sample data through go-audio/aiff and
// repacks it little-endian at the same width.
type aiffDecoder struct {
	lifecycle
	file     *os.File
	dec      *aiff.Decoder
	format   media.SampleFormat
	bits     int
	channels int
	total    int64
	pos      int64
	intBuf   *goaudio.IntBuffer
}

func newAIFFDecoder(res *probe.Result) (Decoder, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, media.OpenError(res.Path, err)
	}
	d := &aiffDecoder{file: f}
	if err := d.reset(); err != nil {
		f.Close()
		return nil, media.DecodeError(res.Path, err)
	}
	return d, nil
}

// reset rewinds to the first sample frame.
func (d *aiffDecoder) reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec := aiff.NewDecoder(d.file)
	if !dec.IsValidFile() {
		return errors.New("invalid AIFF file")
	}
	dec.ReadInfo()
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 {
		return errors.New("unsupported AIFF layout")
	}

	d.dec = dec
	d.bits = int(dec.BitDepth)
	d.format = media.IntFormatForBits(d.bits)
	d.channels = format.NumChannels
	d.total = int64(dec.NumSampleFrames)
	d.pos = 0
	d.intBuf = &goaudio.IntBuffer{
		Data:           make([]int, chunkFrames*d.channels),
		Format:         format,
		SourceBitDepth: d.bits,
	}
	if d.format == media.FormatUnknown {
		return errors.Errorf("unsupported AIFF bit depth %d", d.bits)
	}
	return nil
}

func (d *aiffDecoder) read() (int, error) {
	want := len(d.intBuf.Data)
	if rem := (d.total - d.pos) * int64(d.channels); rem < int64(want) {
		want = int(rem)
	}
	if want <= 0 {
		return 0, io.EOF
	}
	d.intBuf.Data = d.intBuf.Data[:want]
	n, err := d.dec.PCMBuffer(d.intBuf)
	d.intBuf.Data = d.intBuf.Data[:cap(d.intBuf.Data)]
	n -= n % d.channels
	d.pos += int64(n / d.channels)
	return n, err
}

func (d *aiffDecoder) NextChunk() (Chunk, error) {
	n, err := d.read()
	if n == 0 {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			d.exhausted()
			return Chunk{}, io.EOF
		}
		return Chunk{}, media.DecodeError(d.file.Name(), err)
	}
	d.draining()

	width := d.format.Bytes()
	out := make([]byte, n*width)
	for i, v := range d.intBuf.Data[:n] {
		putInt(out[i*width:], d.format, int32(v), d.bits)
	}
	return Chunk{
		Data:   [][]byte{out},
		Format: d.format,
		Frames: n / d.channels,
		Order:  binary.LittleEndian,
	}, nil
}

// SeekFrame rewinds and skips forward; go-audio/aiff has no random access.
func (d *aiffDecoder) SeekFrame(frame int64) (int64, error) {
	if frame < 0 {
		frame = 0
	}
	if frame > d.total {
		frame = d.total
	}
	if frame < d.pos {
		if err := d.reset(); err != nil {
			return 0, media.SeekError(err)
		}
	}
	for d.pos < frame {
		want := min((frame-d.pos)*int64(d.channels), int64(chunkFrames*d.channels))
		d.intBuf.Data = d.intBuf.Data[:want]
		n, err := d.dec.PCMBuffer(d.intBuf)
		d.intBuf.Data = d.intBuf.Data[:cap(d.intBuf.Data)]
		d.pos += int64(n / d.channels)
		if n == 0 || err != nil {
			break
		}
	}
	d.rewound()
	return d.pos, nil
}

func (d *aiffDecoder) Close() error {
	return d.file.Close()
}
