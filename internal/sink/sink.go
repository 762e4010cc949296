// Package sink drives audio output devices.
//
// Two models are supported. Invoked sinks (Oto, Malgo) are called back by
// the audio system and pull frames from a Puller inside that callback. The
// driving sink (Render) owns a goroutine that wakes every period, computes
// the endpoint's free space and pulls exactly that many frames.
package sink

import (
	"encoding/binary"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

// Puller supplies interleaved frames in the format the sink was opened
// with. Pull always fills frames frames and returns frames.
type Puller interface {
	Pull(dst []byte, frames int) int
}

// Sink is an output device.
type Sink interface {
	Open(format media.PCMFormat, p Puller) error
	Start() error
	Pause() error
	// Flush drops audio queued in the device, used after a seek.
	Flush() error
	Close() error
	SetVolume(v float64)
	Capabilities() Capabilities
	Events() <-chan Event
	Stats() Stats
}

// Capabilities tells the player how to build its converter.
type Capabilities struct {
	Name string
	// Formats is the bit-exact allow-list.
	Formats []media.SampleFormat
	// SampleRate and Channels are fixed device values; 0 accepts the source.
	SampleRate int
	Channels   int
	// BitPerfect sinks can render source samples unmodified.
	BitPerfect     bool
	SoftwareVolume bool
}

// Accepts reports whether format is in the allow-list.
func (c Capabilities) Accepts(f media.SampleFormat) bool {
	for _, a := range c.Formats {
		if a == f {
			return true
		}
	}
	return false
}

// EventKind classifies sink events.
type EventKind int

const (
	EventDeviceLost EventKind = iota
	EventRecovered
	// EventDowngraded means exclusive mode was refused; playback continues
	// in shared mode.
	EventDowngraded
	// EventTerminal means the device is gone and recovery failed.
	EventTerminal
)

func (k EventKind) String() string {
	switch k {
	case EventDeviceLost:
		return "device-lost"
	case EventRecovered:
		return "recovered"
	case EventDowngraded:
		return "downgraded"
	case EventTerminal:
		return "terminal"
	}
	return "unknown"
}

// Event is delivered on Sink.Events.
type Event struct {
	Kind    EventKind
	Sink    string
	Message string
	Err     error
}

// Stats are cumulative counters.
type Stats struct {
	RenderedFrames int64
	Underflows     int64
	WriteErrors    int64
	BitPerfect     bool
}

// Options configures the sinks built by New.
type Options struct {
	SampleRate int
	Channels   int
	BufferMs   int
	// Exclusive asks for exclusive device access where supported.
	Exclusive bool
	// AutoSampleRate opens the device at the source rate where supported.
	AutoSampleRate bool
}

const (
	defaultSampleRate = 48000
	defaultBufferMs   = 100
)

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = defaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = 2
	}
	if o.BufferMs <= 0 {
		o.BufferMs = defaultBufferMs
	}
	return o
}

func (o Options) bufferDuration() time.Duration {
	return time.Duration(o.BufferMs) * time.Millisecond
}

// New builds a sink from an output name: "oto", "malgo", "null" or
// "wav:<path>".
func New(output string, opts Options) (Sink, error) {
	opts = opts.withDefaults()
	name, arg, _ := strings.Cut(output, ":")
	switch strings.ToLower(name) {
	case "", "oto":
		return NewOto(opts), nil
	case "malgo":
		return NewMalgo(opts), nil
	case "null":
		return NewRender(NullEndpoint(), opts), nil
	case "wav":
		if arg == "" {
			return nil, media.SinkOpenError(output, errors.New("wav output needs a file path"))
		}
		return NewRender(NewWAVWriter(arg), opts), nil
	}
	return nil, media.SinkOpenError(output, errors.Errorf("unknown output %q", output))
}

// base carries what every sink shares: volume, events and counters.
type base struct {
	name     string
	volume   atomic.Uint64
	events   chan Event
	rendered atomic.Int64
	under    atomic.Int64
	writeErr atomic.Int64
	perfect  atomic.Bool
}

func (b *base) init(name string) {
	b.name = name
	b.events = make(chan Event, 8)
	b.volume.Store(math.Float64bits(1))
}

// SetVolume clamps v to [0, 1].
func (b *base) SetVolume(v float64) {
	b.volume.Store(math.Float64bits(clampVolume(v)))
}

func (b *base) vol() float64 { return math.Float64frombits(b.volume.Load()) }

func (b *base) Events() <-chan Event { return b.events }

func (b *base) Stats() Stats {
	return Stats{
		RenderedFrames: b.rendered.Load(),
		Underflows:     b.under.Load(),
		WriteErrors:    b.writeErr.Load(),
		BitPerfect:     b.perfect.Load(),
	}
}

// emit never blocks; events are dropped when nobody listens.
func (b *base) emit(kind EventKind, msg string, err error) {
	select {
	case b.events <- Event{Kind: kind, Sink: b.name, Message: msg, Err: err}:
	default:
	}
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// applyVolume scales little-endian samples in place. Unity gain is a no-op
// so bit-perfect output stays untouched.
func applyVolume(buf []byte, f media.SampleFormat, v float64) {
	if v >= 1 {
		return
	}
	switch f {
	case media.FormatF32:
		for i := 0; i+4 <= len(buf); i += 4 {
			s := math.Float32frombits(binary.LittleEndian.Uint32(buf[i:]))
			binary.LittleEndian.PutUint32(buf[i:], math.Float32bits(s*float32(v)))
		}
	case media.FormatS16:
		for i := 0; i+2 <= len(buf); i += 2 {
			s := int16(binary.LittleEndian.Uint16(buf[i:]))
			binary.LittleEndian.PutUint16(buf[i:], uint16(int16(float64(s)*v)))
		}
	case media.FormatS24:
		for i := 0; i+3 <= len(buf); i += 3 {
			s := int32(uint32(buf[i])<<8|uint32(buf[i+1])<<16|uint32(buf[i+2])<<24) >> 8
			s = int32(float64(s) * v)
			buf[i], buf[i+1], buf[i+2] = byte(s), byte(s>>8), byte(s>>16)
		}
	case media.FormatS32:
		for i := 0; i+4 <= len(buf); i += 4 {
			s := int32(binary.LittleEndian.Uint32(buf[i:]))
			binary.LittleEndian.PutUint32(buf[i:], uint32(int32(float64(s)*v)))
		}
	case media.FormatU8:
		for i := range buf {
			buf[i] = byte(int(float64(int(buf[i])-0x80)*v) + 0x80)
		}
	}
}
