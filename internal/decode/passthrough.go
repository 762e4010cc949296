package decode

import (
	"io"
	"os"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

// chunkFrames is the batch size for backends that choose their own.
const chunkFrames = 4096

// passthrough hands out the raw data bytes of an uncompressed stream,
// reinterpreted with the layout implied by the codec id.
type passthrough struct {
	lifecycle
	file      *os.File
	data      *io.SectionReader
	codec     media.PCMCodec
	frameSize int64
	length    int64 // bytes, whole frames only
	pos       int64
	buf       []byte
}

func newPassthrough(res *probe.Result, codec media.PCMCodec) (*passthrough, error) {
	channels := res.Stream().Channels
	if channels <= 0 {
		// unknown layouts are read as mono
		channels = 1
	}
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, media.OpenError(res.Path, err)
	}

	length := res.DataLength
	if avail := res.Size - res.DataOffset; res.Size > 0 && (length <= 0 || length > avail) {
		// streamed WAVs leave the data size at 0 or 0xFFFFFFFF
		length = avail
	}
	if length < 0 {
		length = 0
	}
	frameSize := int64(codec.Format.Bytes() * channels)
	length -= length % frameSize

	return &passthrough{
		file:      f,
		data:      io.NewSectionReader(f, res.DataOffset, length),
		codec:     codec,
		frameSize: frameSize,
		length:    length,
		buf:       make([]byte, chunkFrames*frameSize),
	}, nil
}

func (d *passthrough) NextChunk() (Chunk, error) {
	if d.pos >= d.length {
		d.exhausted()
		return Chunk{}, io.EOF
	}
	d.draining()

	want := int64(len(d.buf))
	if rem := d.length - d.pos; rem < want {
		want = rem
	}
	n, err := d.data.ReadAt(d.buf[:want], d.pos)
	n -= n % int(d.frameSize)
	if n == 0 {
		if err == nil || err == io.EOF {
			d.exhausted()
			return Chunk{}, io.EOF
		}
		return Chunk{}, media.DecodeError(d.file.Name(), err)
	}
	d.pos += int64(n)

	out := make([]byte, n)
	copy(out, d.buf[:n])
	return Chunk{
		Data:   [][]byte{out},
		Format: d.codec.Format,
		Frames: n / int(d.frameSize),
		Order:  d.codec.Order,
	}, nil
}

func (d *passthrough) SeekFrame(frame int64) (int64, error) {
	if frame < 0 {
		frame = 0
	}
	pos := frame * d.frameSize
	if pos > d.length {
		pos = d.length
	}
	d.pos = pos
	d.rewound()
	return pos / d.frameSize, nil
}

func (d *passthrough) Close() error {
	return d.file.Close()
}
