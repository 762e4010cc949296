package media

import (
	"fmt"
	"time"
)

// SampleFormat is the encoding of a single PCM sample.
type SampleFormat uint8

const (
	FormatUnknown SampleFormat = iota
	FormatU8
	FormatS16
	FormatS24 // packed, 3 bytes per sample
	FormatS32
	FormatF32
	FormatF64
)

// Bytes returns the storage size of one sample.
func (f SampleFormat) Bytes() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32, FormatF32:
		return 4
	case FormatF64:
		return 8
	}
	return 0
}

// Bits returns the significant bit depth of the format.
func (f SampleFormat) Bits() int { return f.Bytes() * 8 }

// IsFloat reports whether samples are IEEE floating point.
func (f SampleFormat) IsFloat() bool { return f == FormatF32 || f == FormatF64 }

func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "flt"
	case FormatF64:
		return "dbl"
	}
	return "unknown"
}

// Name returns the ffmpeg-style sample format name, with a "p" suffix for
// planar layouts.
func (f SampleFormat) Name(planar bool) string {
	if f == FormatUnknown {
		return ""
	}
	if planar {
		return f.String() + "p"
	}
	return f.String()
}

// IntFormatForBits picks the narrowest integer format that holds bits.
func IntFormatForBits(bits int) SampleFormat {
	switch {
	case bits <= 0:
		return FormatUnknown
	case bits <= 8:
		return FormatU8
	case bits <= 16:
		return FormatS16
	case bits <= 24:
		return FormatS24
	case bits <= 32:
		return FormatS32
	}
	return FormatUnknown
}

// PCMFormat describes an interleaved PCM stream. It is fixed for the lifetime
// of a loaded track.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Float         bool
	Format        SampleFormat
}

// NewPCMFormat builds a PCMFormat from a sample encoding.
func NewPCMFormat(rate, channels int, f SampleFormat) PCMFormat {
	return PCMFormat{
		SampleRate:    rate,
		Channels:      channels,
		BitsPerSample: f.Bits(),
		Float:         f.IsFloat(),
		Format:        f,
	}
}

// FrameSize is the number of bytes in one interleaved frame.
func (p PCMFormat) FrameSize() int {
	return p.Channels * p.Format.Bytes()
}

// BytesPerSecond is the byte rate of the stream.
func (p PCMFormat) BytesPerSecond() int {
	return p.SampleRate * p.FrameSize()
}

// Valid reports whether the format can be rendered.
func (p PCMFormat) Valid() bool {
	return p.SampleRate > 0 && p.Channels > 0 && p.Format != FormatUnknown
}

// FramesToDuration converts a frame count to wall-clock time.
func (p PCMFormat) FramesToDuration(frames int64) time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// DurationToFrames converts wall-clock time to a frame count.
func (p PCMFormat) DurationToFrames(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d) * int64(p.SampleRate) / int64(time.Second)
}

// MillisToFrames converts a millisecond position to a frame index.
func (p PCMFormat) MillisToFrames(ms int64) int64 {
	return p.DurationToFrames(time.Duration(ms) * time.Millisecond)
}

// BitrateKbps is the uncompressed bit rate in kbit/s.
func (p PCMFormat) BitrateKbps() int {
	return p.SampleRate * p.Channels * p.BitsPerSample / 1000
}

// Label is the human readable PCM description, e.g. "PCM 24-bit".
func (p PCMFormat) Label() string {
	if p.BitsPerSample <= 0 {
		return "PCM"
	}
	if p.Float {
		return fmt.Sprintf("PCM %d-bit float", p.BitsPerSample)
	}
	return fmt.Sprintf("PCM %d-bit", p.BitsPerSample)
}

func (p PCMFormat) String() string {
	return fmt.Sprintf("%d Hz, %s, %s", p.SampleRate, ChannelDescription(p.Channels), p.Format)
}

// ChannelDescription returns "mono", "stereo" or "N-ch".
func ChannelDescription(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	}
	return fmt.Sprintf("%d-ch", channels)
}

// DefaultChannelMask returns the conventional speaker mask for a channel
// count, or 0 when there is none.
func DefaultChannelMask(channels int) uint64 {
	switch channels {
	case 1:
		return 0x4 // FC
	case 2:
		return 0x3 // FL|FR
	case 3:
		return 0x7
	case 4:
		return 0x33 // FL|FR|BL|BR
	case 5:
		return 0x37
	case 6:
		return 0x3f // 5.1
	case 7:
		return 0x13f
	case 8:
		return 0x63f // 7.1
	}
	return 0
}
