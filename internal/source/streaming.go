package source

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djbird2046/toney-music/internal/decode"
	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
)

// Converter is the part of convert.Converter a source drives.
type Converter interface {
	Convert(chunk decode.Chunk) ([]byte, int, error)
	Flush() ([]byte, int, error)
	Reset()
	Format() media.PCMFormat
	OutputFrames(n int64) int64
	InputFrames(n int64) int64
}

// Streaming decodes on demand inside Fill.
type Streaming struct {
	dec    decode.Decoder
	conv   Converter
	format media.PCMFormat
	length int64

	stage     staging
	pos       int64
	decodeEOF bool
	exhausted bool
	err       error

	log *logrus.Entry
}

// NewStreaming wraps an opened decoder. length is the track length in
// source frames, 0 if unknown.
func NewStreaming(path string, dec decode.Decoder, conv Converter, length int64) *Streaming {
	return &Streaming{
		dec:    dec,
		conv:   conv,
		format: conv.Format(),
		length: conv.OutputFrames(length),
		log:    logging.Logger.WithFields(logrus.Fields{"component": "source", "path": path}),
	}
}

func (s *Streaming) Fill(dst []byte, frames int) int {
	frameSize := s.format.FrameSize()
	need := frames * frameSize
	dst = dst[:need]

	// decode until the request is covered or the stream ends
	for s.stage.buffered() < need && !s.decodeEOF {
		if err := s.decodeMore(); err != nil {
			s.fail(err)
		}
	}

	// whole frames only; a partial frame stays staged
	avail := min(s.stage.buffered(), need)
	n := s.stage.read(dst[:avail-avail%frameSize])
	s.pos += int64(n / frameSize)
	if n < need {
		silence(dst[n:], s.format.Format)
	}
	if s.decodeEOF && s.stage.buffered() < frameSize {
		s.stage.reset()
		s.exhausted = true
	}
	return frames
}

func (s *Streaming) decodeMore() error {
	chunk, err := s.dec.NextChunk()
	if err == io.EOF {
		s.decodeEOF = true
		out, _, err := s.conv.Flush()
		if err != nil {
			return err
		}
		s.stage.write(out)
		return nil
	}
	if err != nil {
		return err
	}
	out, _, err := s.conv.Convert(chunk)
	if err != nil {
		return err
	}
	s.stage.write(out)
	return nil
}

// fail records the first error and ends the track after whatever is staged.
func (s *Streaming) fail(err error) {
	if s.err == nil {
		s.err = err
		s.log.WithError(err).Error("decode failed")
	}
	s.decodeEOF = true
}

func (s *Streaming) Seek(frame int64) error {
	if frame < 0 {
		return media.SeekError(errors.Errorf("negative position %d", frame))
	}
	landed, err := s.dec.SeekFrame(s.conv.InputFrames(frame))
	if err != nil {
		return err
	}
	s.conv.Reset()
	s.stage.reset()
	s.pos = s.conv.OutputFrames(landed)
	s.decodeEOF = false
	s.exhausted = false
	s.err = nil
	return nil
}

func (s *Streaming) Format() media.PCMFormat { return s.format }
func (s *Streaming) Position() int64         { return s.pos }
func (s *Streaming) Length() int64           { return s.length }
func (s *Streaming) Exhausted() bool         { return s.exhausted }
func (s *Streaming) Err() error              { return s.err }

func (s *Streaming) Close() error {
	return s.dec.Close()
}
