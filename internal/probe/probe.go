// Package probe opens media containers, selects the best audio stream and
// reports stream-level facts and tags.
package probe

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
)

// Stream describes one elementary stream of a container.
type Stream struct {
	Index         int
	Type          string // "audio", "video", "subtitle", "data"
	Codec         string
	SampleRate    int
	Channels      int
	BitsPerSample int
	SampleFormat  media.SampleFormat
	Planar        bool
	ChannelMask   uint64
	// TimeBase is TimeBaseNum/TimeBaseDen seconds per tick.
	TimeBaseNum int64
	TimeBaseDen int64
	// Duration in TimeBase ticks; 0 when absent.
	Duration  int64
	StartTime float64
	BitRate   int64
	Default   bool
	// Serial is the Ogg logical stream serial number.
	Serial uint32
}

// IsAudio reports whether the stream carries audio.
func (s Stream) IsAudio() bool { return s.Type == "audio" }

// DurationSeconds converts the stream duration with its time base.
func (s Stream) DurationSeconds() float64 {
	if s.Duration <= 0 || s.TimeBaseDen == 0 {
		return 0
	}
	return float64(s.Duration) * float64(s.TimeBaseNum) / float64(s.TimeBaseDen)
}

// Gapless holds encoder delay and padding in frames.
type Gapless struct {
	Start int64
	End   int64
}

// Result is everything learned about a file at open time.
type Result struct {
	Path      string
	Size      int64
	Container string
	Streams   []Stream
	// Selected indexes Streams.
	Selected int
	// ContainerDuration in seconds; 0 when absent.
	ContainerDuration float64
	StartTime         float64
	BitRate           int64
	Tags              map[string]string

	// DataOffset and DataLength locate raw PCM for passthrough; DataOffset
	// is -1 when unknown.
	DataOffset int64
	DataLength int64
	ByteOrder  binary.ByteOrder
	Gapless    Gapless
	// Backend names the probing path, "native" or "ffprobe".
	Backend string
}

// Stream returns the selected stream.
func (r *Result) Stream() Stream {
	if r.Selected < 0 || r.Selected >= len(r.Streams) {
		return Stream{}
	}
	return r.Streams[r.Selected]
}

// Format is the native PCM format of the selected stream.
func (r *Result) Format() media.PCMFormat {
	s := r.Stream()
	f := media.NewPCMFormat(s.SampleRate, s.Channels, s.SampleFormat)
	if s.BitsPerSample > 0 && s.BitsPerSample < f.BitsPerSample {
		f.BitsPerSample = s.BitsPerSample
	}
	return f
}

// DurationMs is the stream duration scaled by its time base, falling back
// to the container duration. Values are rounded to the nearest millisecond.
func (r *Result) DurationMs() int64 {
	if secs := r.Stream().DurationSeconds(); secs > 0 {
		return roundMs(secs)
	}
	if r.ContainerDuration > 0 {
		return roundMs(r.ContainerDuration)
	}
	return 0
}

// TotalFrames is the selected stream length in frames at its native rate.
func (r *Result) TotalFrames() int64 {
	s := r.Stream()
	if s.SampleRate <= 0 {
		return 0
	}
	secs := s.DurationSeconds()
	if secs <= 0 {
		secs = r.ContainerDuration
	}
	return int64(math.Round(secs * float64(s.SampleRate)))
}

func roundMs(secs float64) int64 {
	return int64(math.Round(secs * 1000))
}

// Prober opens files. CanDecode reports whether a decoder exists for a
// codec id; streams it accepts are preferred and unsupported selected
// codecs fail Open unless they are uncompressed PCM.
type Prober struct {
	CanDecode func(codec string) bool
	// FFprobe overrides the ffprobe lookup; empty means search PATH.
	FFprobe string

	log *logrus.Entry
}

// New returns a Prober using canDecode.
func New(canDecode func(codec string) bool) *Prober {
	return &Prober{
		CanDecode: canDecode,
		log:       logging.Logger.WithField("component", "probe"),
	}
}

func (p *Prober) canDecode(codec string) bool {
	if p.CanDecode == nil {
		return false
	}
	return p.CanDecode(codec)
}

// Open probes path and selects its best audio stream.
func (p *Prober) Open(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, media.OpenError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, media.OpenError(path, err)
	}
	if info.IsDir() {
		return nil, media.OpenError(path, errors.New("is a directory"))
	}

	kind := sniff(f, path)
	res, err := p.probeNative(kind, f, path, info.Size())
	if err != nil || res == nil {
		if err != nil {
			p.log.WithError(err).WithField("path", path).Debug("native probe failed")
		}
		ff, ffErr := p.probeFFprobe(path)
		if ffErr != nil {
			if err != nil {
				return nil, media.OpenError(path, err)
			}
			return nil, ffErr
		}
		res = ff
	}
	res.Path = path
	res.Size = info.Size()
	if res.Tags == nil {
		res.Tags = map[string]string{}
	}

	idx := selectStream(res.Streams, p.canDecode)
	if idx < 0 {
		return nil, media.NoAudioStreamError(path)
	}
	res.Selected = idx

	s := res.Stream()
	if !p.canDecode(s.Codec) && !media.IsPCMCodec(s.Codec) {
		return nil, media.UnsupportedCodecError(path, s.Codec)
	}
	if res.BitRate <= 0 {
		res.BitRate = estimateBitRate(res)
	}

	readTags(res, kind)
	p.log.WithFields(logrus.Fields{
		"path":      path,
		"container": res.Container,
		"codec":     s.Codec,
		"rate":      s.SampleRate,
		"channels":  s.Channels,
		"backend":   res.Backend,
	}).Debug("probed")
	return res, nil
}

type containerKind int

const (
	kindUnknown containerKind = iota
	kindWAV
	kindAIFF
	kindFLAC
	kindOgg
	kindMP3
	kindMP4
)

// sniff identifies the container from its magic bytes, falling back to the
// file extension.
func sniff(f *os.File, path string) containerKind {
	head := make([]byte, 12)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	_, _ = f.Seek(0, io.SeekStart)

	switch {
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return kindWAV
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("FORM")) &&
		(bytes.Equal(head[8:12], []byte("AIFF")) || bytes.Equal(head[8:12], []byte("AIFC"))):
		return kindAIFF
	case bytes.HasPrefix(head, []byte("fLaC")):
		return kindFLAC
	case bytes.HasPrefix(head, []byte("OggS")):
		return kindOgg
	case len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")):
		return kindMP4
	case bytes.HasPrefix(head, []byte("ID3")):
		if strings.EqualFold(filepath.Ext(path), ".flac") {
			return kindFLAC
		}
		return kindMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return kindMP3
	}

	switch media.ContainerForExt(filepath.Ext(path)) {
	case "mp3":
		return kindMP3
	}
	return kindUnknown
}

func (p *Prober) probeNative(kind containerKind, f *os.File, path string, size int64) (*Result, error) {
	switch kind {
	case kindWAV:
		return probeWAV(f, size)
	case kindAIFF:
		return probeAIFF(f)
	case kindFLAC:
		return probeFLAC(f, size)
	case kindOgg:
		return probeOgg(f, size)
	case kindMP3:
		return probeMP3(f, size)
	case kindMP4:
		return probeMP4(f, size)
	}
	return nil, nil
}

// selectStream returns the index of the best audio stream or -1.
func selectStream(streams []Stream, canDecode func(string) bool) int {
	best, bestScore := -1, math.MinInt
	for i, s := range streams {
		if !s.IsAudio() {
			continue
		}
		score := 0
		if canDecode(s.Codec) || media.IsPCMCodec(s.Codec) {
			score += 1000
		}
		if s.Default {
			score += 100
		}
		score += s.Channels * 10
		score += s.SampleRate / 1000
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func estimateBitRate(r *Result) int64 {
	if s := r.Stream(); s.BitRate > 0 {
		return s.BitRate
	}
	secs := float64(r.DurationMs()) / 1000
	if secs <= 0 || r.Size <= 0 {
		return 0
	}
	return int64(float64(r.Size*8) / secs)
}
