package source

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/decode"
	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
)

// maxPrealloc bounds the up-front buffer; lengths come from headers and
// longer tracks grow the buffer as they decode.
const maxPrealloc = 64 << 20

// Eager holds the whole converted track in memory; Fill is a copy.
type Eager struct {
	format    media.PCMFormat
	stage     staging
	exhausted bool
}

// NewEager decodes dec to the end and closes it. Any decode error fails the
// load; ctx cancels the up-front decode.
func NewEager(ctx context.Context, path string, dec decode.Decoder, conv Converter, length int64) (*Eager, error) {
	defer dec.Close()

	e := &Eager{format: conv.Format()}
	if length > 0 {
		want := conv.OutputFrames(length) * int64(e.format.FrameSize())
		e.stage.buf = make([]byte, 0, min(want, maxPrealloc))
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "decoding "+path)
		}
		chunk, err := dec.NextChunk()
		if err == io.EOF {
			out, _, err := conv.Flush()
			if err != nil {
				return nil, err
			}
			e.stage.write(out)
			break
		}
		if err != nil {
			return nil, err
		}
		out, _, err := conv.Convert(chunk)
		if err != nil {
			return nil, err
		}
		e.stage.write(out)
	}

	logging.Logger.WithField("path", path).
		WithField("frames", e.Length()).
		Debug("track decoded into memory")
	return e, nil
}

func (e *Eager) Fill(dst []byte, frames int) int {
	need := frames * e.format.FrameSize()
	dst = dst[:need]
	n := e.stage.read(dst)
	if n < need {
		silence(dst[n:], e.format.Format)
	}
	if e.stage.buffered() == 0 {
		e.exhausted = true
	}
	return frames
}

// Seek moves the read cursor; positions past the end clamp to the end.
func (e *Eager) Seek(frame int64) error {
	if frame < 0 {
		return media.SeekError(errors.Errorf("negative position %d", frame))
	}
	off := frame * int64(e.format.FrameSize())
	if off > int64(len(e.stage.buf)) {
		off = int64(len(e.stage.buf))
	}
	e.stage.readOff = int(off)
	e.exhausted = false
	return nil
}

func (e *Eager) Format() media.PCMFormat { return e.format }

func (e *Eager) Position() int64 {
	return int64(e.stage.readOff / e.format.FrameSize())
}

func (e *Eager) Length() int64 {
	return int64(len(e.stage.buf) / e.format.FrameSize())
}

func (e *Eager) Exhausted() bool { return e.exhausted }
func (e *Eager) Err() error      { return nil }

func (e *Eager) Close() error {
	e.stage.buf = nil
	e.stage.readOff = 0
	return nil
}
