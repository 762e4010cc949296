// Package decode turns the selected stream of a probed file into PCM chunks.
//
// Backends register themselves by codec id. Codecs without a native backend
// fall back to raw passthrough (uncompressed PCM with a known data offset) or
// to an ffmpeg subprocess.
package decode

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

// State is the decoder life cycle: NotStarted -> Draining -> Exhausted.
// A seek moves an exhausted decoder back to Draining.
type State int

const (
	NotStarted State = iota
	Draining
	Exhausted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Draining:
		return "draining"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Chunk is one batch of decoded frames in the backend's native layout.
type Chunk struct {
	// Data holds one plane when interleaved, one per channel when planar.
	Data   [][]byte
	Format media.SampleFormat
	Planar bool
	Frames int
	Order  binary.ByteOrder
}

// Decoder yields chunks of the selected stream.
type Decoder interface {
	// NextChunk returns io.EOF once the stream is exhausted.
	NextChunk() (Chunk, error)
	// SeekFrame moves to frame (coarse) and returns the frame landed on.
	SeekFrame(frame int64) (int64, error)
	State() State
	Close() error
}

// Factory opens a decoder for a probe result.
type Factory func(res *probe.Result) (Decoder, error)

type entry struct {
	factory    Factory
	containers []string
}

func (e entry) accepts(container string) bool {
	if len(e.containers) == 0 {
		return true
	}
	for _, c := range e.containers {
		if c == container {
			return true
		}
	}
	return false
}

var (
	regMu    sync.RWMutex
	registry = map[string][]entry{}
)

// Register adds a backend for codec. When containers are given the backend
// is only used for files probed as one of them.
func Register(codec string, f Factory, containers ...string) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[codec] = append(registry[codec], entry{factory: f, containers: containers})
}

// Registered reports whether a native backend exists for codec.
func Registered(codec string) bool {
	regMu.RLock()
	defer regMu.RUnlock()
	return len(registry[codec]) > 0
}

// Codecs lists the codecs with a native backend.
func Codecs() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CanDecode is the codec-availability predicate handed to the prober.
func CanDecode(codec string) bool {
	return Registered(codec) || FFmpegAvailable()
}

func lookup(codec, container string) Factory {
	regMu.RLock()
	defer regMu.RUnlock()
	for _, e := range registry[codec] {
		if e.accepts(container) {
			return e.factory
		}
	}
	return nil
}

// Open picks a backend for the selected stream of res.
func Open(res *probe.Result) (Decoder, error) {
	s := res.Stream()
	if f := lookup(s.Codec, res.Container); f != nil {
		return f(res)
	}
	if pcm, ok := media.LookupPCMCodec(s.Codec); ok && !pcm.Planar && res.DataOffset >= 0 {
		return newPassthrough(res, pcm)
	}
	if FFmpegAvailable() {
		return newFFmpegDecoder(res)
	}
	return nil, media.UnsupportedCodecError(res.Path, s.Codec)
}

// lifecycle tracks State for backends.
type lifecycle struct {
	state State
}

func (l *lifecycle) State() State { return l.state }

func (l *lifecycle) draining() { l.state = Draining }

func (l *lifecycle) exhausted() { l.state = Exhausted }

func (l *lifecycle) rewound() {
	if l.state == Exhausted {
		l.state = Draining
	}
}
