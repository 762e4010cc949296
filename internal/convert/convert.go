// Package convert turns decoder chunks into the interleaved little-endian
// PCM a sink consumes: sample format, channel layout and, for sinks with a
// fixed device rate, sample rate.
package convert

import (
	"encoding/binary"
	"fmt"

	"github.com/ik5/audpbx/audio"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/decode"
	"github.com/djbird2046/toney-music/internal/media"
)

// Policy selects the output sample encoding.
type Policy int

const (
	// SoftwareFriendly always produces interleaved float32.
	SoftwareFriendly Policy = iota
	// BitExact keeps the source encoding when the sink accepts it and
	// widens to s32 otherwise.
	BitExact
)

func (p Policy) String() string {
	switch p {
	case SoftwareFriendly:
		return "software-friendly"
	case BitExact:
		return "bit-exact"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// DefaultAllowed is the bit-exact allow-list used when the sink has none.
var DefaultAllowed = []media.SampleFormat{media.FormatS16, media.FormatS32, media.FormatF32}

// Input describes what the decoder produces.
type Input struct {
	SampleRate int
	// Channels may be 0 when the container does not say; mono is assumed.
	Channels int
	Format   media.SampleFormat
}

// Target constrains the output. Zero fields keep the source value.
type Target struct {
	SampleRate int
	Channels   int
	Allowed    []media.SampleFormat
}

// Converter is not safe for concurrent use.
type Converter struct {
	in     Input
	out    media.PCMFormat
	policy Policy

	// identity is set when samples only need repacking
	identity bool

	// float path
	queue     *queue
	chain     audio.Source
	resampler *audio.Resampler
	ratio     float64
	produced  int64
	samples   []float32
	scratch   []float32
}

// New validates the pair and prepares the conversion.
func New(in Input, policy Policy, target Target) (*Converter, error) {
	if in.SampleRate <= 0 {
		return nil, media.ResamplerInitError(errors.Errorf("invalid source rate %d", in.SampleRate))
	}
	if in.Format == media.FormatUnknown {
		return nil, media.ResamplerInitError(errors.New("unknown source sample format"))
	}
	if target.SampleRate < 0 || target.Channels < 0 {
		return nil, media.ResamplerInitError(errors.Errorf("invalid target %d Hz, %d channels", target.SampleRate, target.Channels))
	}
	if in.Channels <= 0 {
		in.Channels = 1
	}

	rate := in.SampleRate
	if target.SampleRate > 0 {
		rate = target.SampleRate
	}
	channels := in.Channels
	if target.Channels > 0 {
		channels = target.Channels
	}

	var format media.SampleFormat
	switch policy {
	case SoftwareFriendly:
		format = media.FormatF32
	case BitExact:
		if rate != in.SampleRate {
			return nil, media.ResamplerInitError(errors.Errorf("bit-exact output cannot resample %d Hz to %d Hz", in.SampleRate, rate))
		}
		format = bitExactFormat(in.Format, target.Allowed)
	default:
		return nil, media.ResamplerInitError(errors.Errorf("unknown policy %v", policy))
	}

	c := &Converter{
		in:     in,
		out:    media.NewPCMFormat(rate, channels, format),
		policy: policy,
	}
	c.identity = rate == in.SampleRate && channels == in.Channels
	if !c.identity {
		c.ratio = float64(in.SampleRate) / float64(rate)
		c.buildChain()
	}
	return c, nil
}

func bitExactFormat(f media.SampleFormat, allowed []media.SampleFormat) media.SampleFormat {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	for _, a := range allowed {
		if a == f {
			return f
		}
	}
	return media.FormatS32
}

// Format is the output format; fixed for the converter's lifetime.
func (c *Converter) Format() media.PCMFormat { return c.out }

// OutputFrames converts a source frame count to output frames.
func (c *Converter) OutputFrames(n int64) int64 {
	if c.out.SampleRate == c.in.SampleRate {
		return n
	}
	return n * int64(c.out.SampleRate) / int64(c.in.SampleRate)
}

// InputFrames converts an output frame count to source frames.
func (c *Converter) InputFrames(n int64) int64 {
	if c.out.SampleRate == c.in.SampleRate {
		return n
	}
	return n * int64(c.in.SampleRate) / int64(c.out.SampleRate)
}

// Policy is the policy the converter was built with.
func (c *Converter) Policy() Policy { return c.policy }

// BitPerfect reports whether samples reach the output unmodified.
func (c *Converter) BitPerfect() bool {
	return c.identity && c.in.Format == c.out.Format
}

// Convert returns the chunk as interleaved little-endian output frames. A
// resampling converter may hold frames back until more input arrives.
func (c *Converter) Convert(chunk decode.Chunk) ([]byte, int, error) {
	frames, err := c.checkChunk(chunk)
	if err != nil {
		return nil, 0, err
	}
	if frames == 0 {
		return nil, 0, nil
	}
	order := chunk.Order
	if order == nil {
		order = binary.LittleEndian
	}

	if c.identity {
		return c.repack(chunk, frames, order), frames, nil
	}
	c.pushFloat(chunk, frames, order)
	return c.drain(false)
}

// Flush emits frames held back by the resampler once the decoder is done.
func (c *Converter) Flush() ([]byte, int, error) {
	if c.identity {
		return nil, 0, nil
	}
	c.queue.eof = true
	return c.drain(true)
}

// Reset drops buffered input and restarts the resampler after a seek.
func (c *Converter) Reset() {
	if !c.identity {
		c.buildChain()
	}
}

func (c *Converter) checkChunk(chunk decode.Chunk) (int, error) {
	width := chunk.Format.Bytes()
	if width == 0 {
		return 0, media.DecodeError("", errors.Errorf("chunk has unknown sample format %v", chunk.Format))
	}
	frames := chunk.Frames
	if chunk.Planar {
		if len(chunk.Data) < c.in.Channels {
			return 0, media.DecodeError("", errors.Errorf("planar chunk has %d planes, want %d", len(chunk.Data), c.in.Channels))
		}
		for _, plane := range chunk.Data[:c.in.Channels] {
			frames = min(frames, len(plane)/width)
		}
		return frames, nil
	}
	if len(chunk.Data) == 0 {
		return 0, nil
	}
	return min(frames, len(chunk.Data[0])/(width*c.in.Channels)), nil
}

// sampleAt returns the bytes of sample (frame, ch) of a chunk.
func sampleAt(chunk decode.Chunk, channels, frame, ch, width int) []byte {
	if chunk.Planar {
		off := frame * width
		return chunk.Data[ch][off : off+width]
	}
	off := (frame*channels + ch) * width
	return chunk.Data[0][off : off+width]
}

// repack interleaves and re-encodes without touching rate or layout.
func (c *Converter) repack(chunk decode.Chunk, frames int, order binary.ByteOrder) []byte {
	inWidth := chunk.Format.Bytes()
	outWidth := c.out.Format.Bytes()
	channels := c.in.Channels
	out := make([]byte, frames*channels*outWidth)

	if !chunk.Planar && chunk.Format == c.out.Format && order == binary.LittleEndian {
		copy(out, chunk.Data[0])
		return out
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			src := sampleAt(chunk, channels, f, ch, inWidth)
			putSample(out[(f*channels+ch)*outWidth:], c.out.Format, src, chunk.Format, order)
		}
	}
	return out
}
