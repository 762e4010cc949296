// Package source stages converted PCM between the decoder and a sink.
//
// Sinks pull fixed frame counts and must always get them, so Fill pads with
// silence once the track runs out and latches exhaustion exactly once.
// Sources are not safe for concurrent use; the player serialises access.
package source

import (
	"github.com/djbird2046/toney-music/internal/media"
)

// Source hands out interleaved output frames.
type Source interface {
	// Fill writes exactly frames frames into dst and returns frames.
	Fill(dst []byte, frames int) int
	// Seek moves to frame, in output frames.
	Seek(frame int64) error
	Format() media.PCMFormat
	// Position is the next frame Fill will produce.
	Position() int64
	// Length is the track length in frames, 0 if unknown.
	Length() int64
	Exhausted() bool
	// Err is the decode error that ended the track, if any.
	Err() error
	Close() error
}

// Strategy chooses between the two Source implementations.
type Strategy int

const (
	StrategyStreaming Strategy = iota
	StrategyEager
)

func (s Strategy) String() string {
	if s == StrategyEager {
		return "eager"
	}
	return "streaming"
}

// ParseStrategy maps a config value to a Strategy; unknown values stream.
func ParseStrategy(s string) Strategy {
	if s == "eager" {
		return StrategyEager
	}
	return StrategyStreaming
}

// staging is a byte buffer with a read cursor; readOff <= len(buf).
type staging struct {
	buf     []byte
	readOff int
}

func (s *staging) buffered() int { return len(s.buf) - s.readOff }

func (s *staging) write(p []byte) {
	if s.readOff == len(s.buf) {
		s.buf = s.buf[:0]
		s.readOff = 0
	}
	s.buf = append(s.buf, p...)
}

func (s *staging) read(dst []byte) int {
	n := copy(dst, s.buf[s.readOff:])
	s.readOff += n
	return n
}

func (s *staging) reset() {
	s.buf = s.buf[:0]
	s.readOff = 0
}

// silence writes the zero level of format into dst.
func silence(dst []byte, format media.SampleFormat) {
	if format == media.FormatU8 {
		for i := range dst {
			dst[i] = 0x80
		}
		return
	}
	clear(dst)
}
