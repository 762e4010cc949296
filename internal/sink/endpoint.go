package sink

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

const wavFormatPCM = 1

// WAVWriter records rendered audio to a PCM WAV file. Float input is
// written as 32-bit integer PCM.
type WAVWriter struct {
	path string

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format media.PCMFormat
	depth  int
	ints   *goaudio.IntBuffer
	volume atomic.Uint64
}

// NewWAVWriter returns an endpoint that creates path on Open.
func NewWAVWriter(path string) *WAVWriter {
	w := &WAVWriter{path: path}
	w.volume.Store(math.Float64bits(1))
	return w
}

func (w *WAVWriter) Name() string { return "wav" }

func (w *WAVWriter) Open(format media.PCMFormat) error {
	depth := 32
	switch format.Format {
	case media.FormatS16:
		depth = 16
	case media.FormatS32, media.FormatF32:
	default:
		return errors.Errorf("wav endpoint cannot write %v", format.Format)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc != nil {
		if err := w.closeLocked(); err != nil {
			return err
		}
	}
	f, err := os.Create(w.path)
	if err != nil {
		return errors.Wrap(err, "creating wav output")
	}
	w.file = f
	w.enc = wav.NewEncoder(f, format.SampleRate, depth, format.Channels, wavFormatPCM)
	w.format = format
	w.depth = depth
	w.ints = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: depth,
	}
	return nil
}

func (w *WAVWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return errors.New("wav endpoint not open")
	}
	v := math.Float64frombits(w.volume.Load())
	applyVolume(p, w.format.Format, v)

	width := w.format.Format.Bytes()
	n := len(p) / width
	if cap(w.ints.Data) < n {
		w.ints.Data = make([]int, n)
	}
	data := w.ints.Data[:n]
	for i := range data {
		b := p[i*width:]
		switch w.format.Format {
		case media.FormatS16:
			data[i] = int(int16(binary.LittleEndian.Uint16(b)))
		case media.FormatS32:
			data[i] = int(int32(binary.LittleEndian.Uint32(b)))
		case media.FormatF32:
			data[i] = floatToPCM32(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
	}
	w.ints.Data = data
	return w.enc.Write(w.ints)
}

func floatToPCM32(f float32) int {
	if f >= 1 {
		return math.MaxInt32
	}
	if f <= -1 {
		return math.MinInt32
	}
	return int(float64(f) * (1 << 31))
}

func (w *WAVWriter) SetVolume(v float64) {
	w.volume.Store(math.Float64bits(clampVolume(v)))
}

func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *WAVWriter) closeLocked() error {
	if w.enc == nil {
		return nil
	}
	err := w.enc.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.enc, w.file = nil, nil
	return errors.Wrap(err, "finishing wav output")
}

type nullEndpoint struct{}

// NullEndpoint discards everything.
func NullEndpoint() Endpoint { return nullEndpoint{} }

func (nullEndpoint) Name() string               { return "null" }
func (nullEndpoint) Open(media.PCMFormat) error { return nil }
func (nullEndpoint) Write([]byte) error         { return nil }
func (nullEndpoint) SetVolume(float64)          {}
func (nullEndpoint) Close() error               { return nil }
