package convert

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/ik5/audpbx/audio"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/decode"
	"github.com/djbird2046/toney-music/internal/media"
)

// resamplerPrime is how many frames the cubic resampler reads before its
// first output.
const resamplerPrime = 4

// queue is the audio.Source at the head of the float pipeline. It never
// reports EOF until the converter is flushed, and reports (0, nil) when
// empty.
type queue struct {
	rate     int
	channels int
	buf      []float32
	head     int
	pushed   int64 // frames
	eof      bool
}

func (q *queue) SampleRate() int { return q.rate }
func (q *queue) Channels() int   { return q.channels }
func (q *queue) BufSize() int    { return 4096 }
func (q *queue) Close() error    { return nil }

func (q *queue) ReadSamples(dst []float32) (int, error) {
	if q.head == len(q.buf) {
		if q.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(dst, q.buf[q.head:])
	q.head += n
	return n, nil
}

func (q *queue) push(samples []float32) {
	if q.head > 0 && q.head >= len(q.buf)/2 {
		q.buf = append(q.buf[:0], q.buf[q.head:]...)
		q.head = 0
	}
	q.buf = append(q.buf, samples...)
	q.pushed += int64(len(samples) / q.channels)
}

// channelMapper up-mixes by repeating source channels and down-mixes by
// averaging the source channels that fold onto each output channel.
type channelMapper struct {
	src      audio.Source
	channels int
	tmp      []float32
}

func (m *channelMapper) SampleRate() int { return m.src.SampleRate() }
func (m *channelMapper) Channels() int   { return m.channels }
func (m *channelMapper) BufSize() int    { return m.src.BufSize() }
func (m *channelMapper) Close() error    { return m.src.Close() }

func (m *channelMapper) ReadSamples(dst []float32) (int, error) {
	in := m.src.Channels()
	frames := len(dst) / m.channels
	if cap(m.tmp) < frames*in {
		m.tmp = make([]float32, frames*in)
	}
	n, err := m.src.ReadSamples(m.tmp[:frames*in])
	got := n / in
	for f := 0; f < got; f++ {
		frame := m.tmp[f*in : (f+1)*in]
		for c := 0; c < m.channels; c++ {
			if in <= m.channels {
				dst[f*m.channels+c] = frame[c%in]
				continue
			}
			var sum float32
			var count int
			for j := c; j < in; j += m.channels {
				sum += frame[j]
				count++
			}
			dst[f*m.channels+c] = sum / float32(count)
		}
	}
	return got * m.channels, err
}

// buildChain wires queue -> channel stage -> resampler.
func (c *Converter) buildChain() {
	c.queue = &queue{rate: c.in.SampleRate, channels: c.in.Channels}
	c.chain = c.queue
	switch {
	case c.out.Channels == c.in.Channels:
	case c.out.Channels == 1:
		c.chain = audio.NewMonoMixer(c.chain)
	default:
		c.chain = &channelMapper{src: c.chain, channels: c.out.Channels}
	}
	c.resampler = nil
	if c.out.SampleRate != c.in.SampleRate {
		c.resampler = audio.NewResampler(c.chain, c.out.SampleRate)
		c.chain = c.resampler
	}
	c.produced = 0
}

func (c *Converter) pushFloat(chunk decode.Chunk, frames int, order binary.ByteOrder) {
	channels := c.in.Channels
	width := chunk.Format.Bytes()
	need := frames * channels
	if cap(c.samples) < need {
		c.samples = make([]float32, need)
	}
	samples := c.samples[:need]
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			src := sampleAt(chunk, channels, f, ch, width)
			samples[f*channels+ch] = float32(sampleFloat(src, chunk.Format, order))
		}
	}
	c.queue.push(samples)
}

// ready is how many output frames can be produced without starving the
// resampler mid-stream.
func (c *Converter) ready(final bool) int {
	if c.resampler == nil {
		return int(c.queue.pushed - c.produced)
	}
	if final {
		// drained until EOF
		return math.MaxInt32
	}
	avail := float64(c.queue.pushed - resamplerPrime)
	if avail <= 0 {
		return 0
	}
	return max(int(math.Floor(avail/c.ratio))-int(c.produced), 0)
}

func (c *Converter) drain(final bool) ([]byte, int, error) {
	want := c.ready(final)
	if want <= 0 {
		return nil, 0, nil
	}
	channels := c.out.Channels
	width := c.out.Format.Bytes()
	var out []byte
	if !final {
		out = make([]byte, 0, want*channels*width)
	}
	total := 0
	for want > 0 {
		n := min(want, 4096)
		if cap(c.scratch) < n*channels {
			c.scratch = make([]float32, n*channels)
		}
		got, err := c.chain.ReadSamples(c.scratch[:n*channels])
		frames := got / channels
		start := len(out)
		out = append(out, make([]byte, frames*channels*width)...)
		for i, v := range c.scratch[:frames*channels] {
			putFloat(out[start+i*width:], c.out.Format, v)
		}
		total += frames
		c.produced += int64(frames)
		want -= frames
		if err == io.EOF || frames == 0 {
			break
		}
		if err != nil {
			return out, total, media.DecodeError("", errors.Wrap(err, "resampling"))
		}
	}
	return out, total, nil
}
