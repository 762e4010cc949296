package decode

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

// go-mp3 always emits 16-bit little-endian stereo.
const mp3FrameBytes = 4

type mp3Decoder struct {
	lifecycle
	file  *os.File
	dec   *mp3.Decoder
	mono  bool
	skip  int64 // encoder delay in frames
	total int64 // frames after gapless trim, 0 if unknown
	pos   int64
	buf   []byte
}

func newMP3Decoder(res *probe.Result) (Decoder, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, media.OpenError(res.Path, err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, media.DecodeError(res.Path, err)
	}

	d := &mp3Decoder{
		file:  f,
		dec:   dec,
		mono:  res.Stream().Channels == 1,
		skip:  res.Gapless.Start,
		total: res.Stream().Duration,
		buf:   make([]byte, chunkFrames*mp3FrameBytes),
	}
	if d.total <= 0 {
		d.total = dec.Length()/mp3FrameBytes - d.skip
	}
	if d.skip > 0 {
		if _, err := dec.Seek(d.skip*mp3FrameBytes, io.SeekStart); err != nil {
			f.Close()
			return nil, media.DecodeError(res.Path, err)
		}
	}
	return d, nil
}

func (d *mp3Decoder) NextChunk() (Chunk, error) {
	want := len(d.buf)
	if d.total > 0 {
		rem := (d.total - d.pos) * mp3FrameBytes
		if rem <= 0 {
			d.exhausted()
			return Chunk{}, io.EOF
		}
		if rem < int64(want) {
			want = int(rem)
		}
	}

	n, err := io.ReadFull(d.dec, d.buf[:want])
	n -= n % mp3FrameBytes
	if n == 0 {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			d.exhausted()
			return Chunk{}, io.EOF
		}
		return Chunk{}, media.DecodeError(d.file.Name(), err)
	}
	d.draining()
	frames := n / mp3FrameBytes
	d.pos += int64(frames)

	var out []byte
	if d.mono {
		out = make([]byte, frames*2)
		for i := 0; i < frames; i++ {
			l := int32(int16(binary.LittleEndian.Uint16(d.buf[i*4:])))
			r := int32(int16(binary.LittleEndian.Uint16(d.buf[i*4+2:])))
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
		}
	} else {
		out = make([]byte, n)
		copy(out, d.buf[:n])
	}
	return Chunk{
		Data:   [][]byte{out},
		Format: media.FormatS16,
		Frames: frames,
		Order:  binary.LittleEndian,
	}, nil
}

func (d *mp3Decoder) SeekFrame(frame int64) (int64, error) {
	if frame < 0 {
		frame = 0
	}
	if d.total > 0 && frame > d.total {
		frame = d.total
	}
	if _, err := d.dec.Seek((d.skip+frame)*mp3FrameBytes, io.SeekStart); err != nil {
		return d.pos, media.SeekError(err)
	}
	d.pos = frame
	d.rewound()
	return frame, nil
}

func (d *mp3Decoder) Close() error {
	return d.file.Close()
}
