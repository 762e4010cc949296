package decode

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/jfreymuth/oggvorbis"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

type vorbisDecoder struct {
	lifecycle
	file     *os.File
	reader   *oggvorbis.Reader
	channels int
	samples  []float32
}

func newVorbisDecoder(res *probe.Result) (Decoder, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, media.OpenError(res.Path, err)
	}
	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, media.DecodeError(res.Path, errors.Wrap(err, "decoding OGG"))
	}
	channels := reader.Channels()
	return &vorbisDecoder{
		file:     f,
		reader:   reader,
		channels: channels,
		samples:  make([]float32, chunkFrames*channels),
	}, nil
}

func (d *vorbisDecoder) NextChunk() (Chunk, error) {
	var n int
	var err error
	// zero samples without an error means the reader needs another packet
	for n == 0 && err == nil {
		n, err = d.reader.Read(d.samples)
	}
	frames := n / d.channels
	if frames == 0 {
		if err == io.EOF {
			d.exhausted()
			return Chunk{}, io.EOF
		}
		return Chunk{}, media.DecodeError(d.file.Name(), err)
	}
	d.draining()

	out := make([]byte, frames*d.channels*4)
	for i, s := range d.samples[:frames*d.channels] {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return Chunk{
		Data:   [][]byte{out},
		Format: media.FormatF32,
		Frames: frames,
		Order:  binary.LittleEndian,
	}, nil
}

func (d *vorbisDecoder) SeekFrame(frame int64) (int64, error) {
	if frame < 0 {
		frame = 0
	}
	if length := d.reader.Length(); length > 0 && frame > length {
		frame = length
	}
	if err := d.reader.SetPosition(frame); err != nil {
		return d.reader.Position(), media.SeekError(err)
	}
	d.rewound()
	return d.reader.Position(), nil
}

func (d *vorbisDecoder) Close() error {
	return d.file.Close()
}
