package decode

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

var (
	ffmpegOnce sync.Once
	ffmpegPath string
)

// FFmpegAvailable reports whether ffmpeg is on PATH. The lookup is cached.
func FFmpegAvailable() bool {
	ffmpegOnce.Do(func() {
		ffmpegPath, _ = exec.LookPath("ffmpeg")
	})
	return ffmpegPath != ""
}

// ffmpegDecoder decodes the selected stream through an ffmpeg subprocess.
// It emits raw little-endian PCM at the source rate and channel count.
// Seek is implemented by restarting the process with -ss.
type ffmpegDecoder struct {
	lifecycle
	path       string
	index      int
	sampleRate int
	channels   int
	format     media.SampleFormat
	total      int64

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
	pos    int64
	buf    []byte
	closed bool
}

// ffmpegOutput maps a native sample format to what ffmpeg is asked for.
func ffmpegOutput(f media.SampleFormat) (media.SampleFormat, string) {
	switch f {
	case media.FormatU8, media.FormatS16:
		return media.FormatS16, "s16le"
	case media.FormatS24, media.FormatS32:
		return media.FormatS32, "s32le"
	}
	return media.FormatF32, "f32le"
}

func newFFmpegDecoder(res *probe.Result) (Decoder, error) {
	if !FFmpegAvailable() {
		return nil, media.UnsupportedCodecError(res.Path, res.Stream().Codec)
	}
	s := res.Stream()
	sampleRate := s.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	channels := s.Channels
	if channels <= 0 {
		channels = 2
	}
	format, _ := ffmpegOutput(s.SampleFormat)

	d := &ffmpegDecoder{
		path:       res.Path,
		index:      s.Index,
		sampleRate: sampleRate,
		channels:   channels,
		format:     format,
		total:      res.TotalFrames(),
		buf:        make([]byte, chunkFrames*channels*format.Bytes()),
	}
	if err := d.startProcess(0); err != nil {
		return nil, media.DecodeError(res.Path, err)
	}
	return d, nil
}

// startProcess launches ffmpeg decoding from the given frame.
func (d *ffmpegDecoder) startProcess(from int64) error {
	d.stopProcess()

	ctx, cancel := context.WithCancel(context.Background())
	args := []string{"-v", "quiet", "-nostdin"}
	// -ss before -i for fast seek
	if from > 0 {
		args = append(args, "-ss", formatSeekTime(float64(from)/float64(d.sampleRate)))
	}
	_, name := ffmpegOutput(d.format)
	args = append(args,
		"-i", d.path,
		"-map", fmt.Sprintf("0:%d", d.index),
		"-f", name,
		"-acodec", "pcm_"+name,
		"-ar", strconv.Itoa(d.sampleRate),
		"-ac", strconv.Itoa(d.channels),
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdin = nil
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return errors.Wrap(err, "setting up ffmpeg stdout")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return errors.Wrap(err, "starting ffmpeg")
	}

	d.cmd = cmd
	d.stdout = stdout
	d.cancel = cancel
	d.pos = from
	return nil
}

// stopProcess kills and reaps the current ffmpeg process.
func (d *ffmpegDecoder) stopProcess() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.cmd != nil {
		// errors from cancellation are expected
		_ = d.cmd.Wait()
		d.cmd = nil
	}
	d.stdout = nil
}

// reap waits for a process whose output is spent. A failed run (bad
// input, missing stream) shows up only as a non-zero exit.
func (d *ffmpegDecoder) reap() error {
	if d.cmd == nil {
		return nil
	}
	err := d.cmd.Wait()
	d.cmd = nil
	d.stdout = nil
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err != nil {
		return errors.Wrap(err, "ffmpeg")
	}
	return nil
}

func (d *ffmpegDecoder) NextChunk() (Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.stdout == nil {
		d.exhausted()
		return Chunk{}, io.EOF
	}

	frameSize := d.channels * d.format.Bytes()
	n, err := io.ReadFull(d.stdout, d.buf)
	n -= n % frameSize
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if werr := d.reap(); werr != nil {
				return Chunk{}, media.DecodeError(d.path, werr)
			}
			d.exhausted()
			return Chunk{}, io.EOF
		}
		return Chunk{}, media.DecodeError(d.path, err)
	}
	d.draining()

	out := make([]byte, n)
	copy(out, d.buf[:n])
	frames := n / frameSize
	d.pos += int64(frames)
	return Chunk{
		Data:   [][]byte{out},
		Format: d.format,
		Frames: frames,
		Order:  binary.LittleEndian,
	}, nil
}

func (d *ffmpegDecoder) SeekFrame(frame int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.pos, media.SeekError(errors.New("decoder closed"))
	}
	if frame < 0 {
		frame = 0
	}
	if d.total > 0 && frame > d.total {
		frame = d.total
	}
	if err := d.startProcess(frame); err != nil {
		return d.pos, media.SeekError(err)
	}
	d.rewound()
	return frame, nil
}

func (d *ffmpegDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.stopProcess()
	return nil
}

// formatSeekTime formats seconds into HH:MM:SS.mmm for ffmpeg -ss.
func formatSeekTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := seconds - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}
