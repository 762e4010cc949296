package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djbird2046/toney-music/internal/decode"
	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
	"github.com/djbird2046/toney-music/internal/sink"
	"github.com/djbird2046/toney-music/internal/source"
)

const testRate = 44100

// fakeSink pulls from its own goroutine while started, much faster than
// real time.
type fakeSink struct {
	caps    sink.Capabilities
	openErr error
	events  chan sink.Event

	mu       sync.Mutex
	format   media.PCMFormat
	puller   sink.Puller
	captured []byte
	stop     chan struct{}
	done     chan struct{}
	volume   float64

	opens, starts, pauses, flushes, closes atomic.Int32
	rendered                               atomic.Int64
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		caps: sink.Capabilities{
			Name:       "fake",
			Formats:    []media.SampleFormat{media.FormatS16, media.FormatS32, media.FormatF32},
			BitPerfect: true,
		},
		events: make(chan sink.Event, 4),
	}
}

func (s *fakeSink) Open(f media.PCMFormat, p sink.Puller) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opens.Add(1)
	s.mu.Lock()
	s.format, s.puller = f, p
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Start() error {
	s.starts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop, s.done = make(chan struct{}), make(chan struct{})
	go s.loop(s.puller, s.format, s.stop, s.done)
	return nil
}

func (s *fakeSink) loop(p sink.Puller, f media.PCMFormat, stop, done chan struct{}) {
	defer close(done)
	const frames = 441
	buf := make([]byte, frames*f.FrameSize())
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		p.Pull(buf, frames)
		s.rendered.Add(frames)
		s.mu.Lock()
		s.captured = append(s.captured, buf...)
		s.mu.Unlock()
	}
}

func (s *fakeSink) Pause() error {
	s.pauses.Add(1)
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *fakeSink) Flush() error {
	s.flushes.Add(1)
	return nil
}

func (s *fakeSink) Close() error {
	s.closes.Add(1)
	return s.Pause()
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fakeSink) Capabilities() sink.Capabilities { return s.caps }
func (s *fakeSink) Events() <-chan sink.Event       { return s.events }

func (s *fakeSink) Stats() sink.Stats {
	return sink.Stats{RenderedFrames: s.rendered.Load(), BitPerfect: true}
}

func (s *fakeSink) output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.captured...)
}

// writeRamp writes a 16-bit stereo WAV whose samples count up from 1 and
// returns its data chunk.
func writeRamp(t *testing.T, frames int) (string, []byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ramp.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	ints := make([]int, frames*2)
	data := make([]byte, len(ints)*2)
	for i := range ints {
		ints[i] = i%30000 + 1
		binary.LittleEndian.PutUint16(data[i*2:], uint16(ints[i]))
	}
	enc := wav.NewEncoder(f, testRate, 16, 2, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: testRate},
		SourceBitDepth: 16,
		Data:           ints,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path, data
}

func newTestEngine(t *testing.T, s *fakeSink, opts Options) *Engine {
	t.Helper()
	p := probe.New(decode.CanDecode)
	p.FFprobe = filepath.Join(os.TempDir(), "no-such-ffprobe")
	opts.Sink = s
	opts.Prober = p
	e := New(opts)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitEnded(t *testing.T, sub *Subscription) Ended {
	t.Helper()
	select {
	case ev := <-sub.Ended:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not end")
	}
	return Ended{}
}

func TestPlayToEndBitPerfect(t *testing.T) {
	path, data := writeRamp(t, 8820)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{BitPerfect: true})
	sub := e.Subscribe()

	var calls atomic.Int32
	e.OnPlaybackEnded(func(reason EndReason, err error) {
		assert.Equal(t, EndNatural, reason)
		assert.NoError(t, err)
		calls.Add(1)
	})

	require.NoError(t, e.Load(context.Background(), path))
	assert.Equal(t, Loaded, e.State())
	assert.Equal(t, 200*time.Millisecond, e.Duration())
	assert.True(t, e.Status().BitPerfect)

	require.NoError(t, e.Play())
	ev := waitEnded(t, sub)
	assert.Equal(t, EndNatural, ev.Reason)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, Ended, e.State())

	require.Eventually(t, func() bool { return s.pauses.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, bytes.Contains(s.output(), data), "samples reach the sink unmodified")
	assert.Equal(t, media.NewPCMFormat(testRate, 2, media.FormatS16), s.format)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "notified once")
}

func TestPlayFromEndedRestarts(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})
	sub := e.Subscribe()

	require.NoError(t, e.Load(context.Background(), path))
	require.NoError(t, e.Play())
	waitEnded(t, sub)

	require.NoError(t, e.Play())
	assert.Equal(t, int32(1), s.opens.Load(), "sink stays open between runs")
	ev := waitEnded(t, sub)
	assert.Equal(t, EndNatural, ev.Reason)
}

func TestSoftwarePathWhenBitPerfectImpossible(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	s := newFakeSink()
	s.caps.SampleRate = 48000
	e := newTestEngine(t, s, Options{BitPerfect: true})

	require.NoError(t, e.Load(context.Background(), path))
	assert.False(t, e.Status().BitPerfect)
	require.NoError(t, e.Play())
	assert.Equal(t, media.NewPCMFormat(48000, 2, media.FormatF32), s.format)
}

func TestLoadFailureLeavesIdle(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})
	sub := e.Subscribe()

	require.NoError(t, e.Load(context.Background(), path))
	require.NoError(t, e.Play())

	err := e.Load(context.Background(), filepath.Join(t.TempDir(), "missing.flac"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrOpen))
	assert.Equal(t, Idle, e.State())
	_, ok := e.Metadata()
	assert.False(t, ok)
	assert.Equal(t, int32(1), s.closes.Load())

	select {
	case ev := <-sub.Errors:
		assert.Equal(t, "load", ev.Operation)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
}

func TestPlayWithoutTrack(t *testing.T) {
	e := newTestEngine(t, newFakeSink(), Options{})
	assert.ErrorIs(t, e.Play(), ErrNoTrack)
	assert.NoError(t, e.Pause())
	assert.NoError(t, e.Stop())
	assert.Equal(t, Idle, e.State())
}

func TestPlaySinkOpenFails(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	s := newFakeSink()
	s.openErr = media.SinkOpenError("fake", errors.New("busy"))
	e := newTestEngine(t, s, Options{})

	require.NoError(t, e.Load(context.Background(), path))
	err := e.Play()
	assert.True(t, errors.Is(err, media.ErrSinkOpen))
	assert.Equal(t, Loaded, e.State())
}

func TestSeek(t *testing.T) {
	path, _ := writeRamp(t, 8820)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})

	assert.True(t, errors.Is(e.Seek(10), media.ErrSeek), "no track")

	require.NoError(t, e.Load(context.Background(), path))
	assert.True(t, errors.Is(e.Seek(-1), media.ErrSeek))
	assert.True(t, errors.Is(e.Seek(500), media.ErrSeek))

	require.NoError(t, e.Seek(50))
	assert.InDelta(t, float64(50*time.Millisecond), float64(e.Position()), float64(time.Millisecond))
	assert.Equal(t, int32(0), s.flushes.Load(), "not playing")
	assert.Equal(t, Loaded, e.State())
}

func TestSeekWhilePlayingFlushes(t *testing.T) {
	path, _ := writeRamp(t, 44100*5)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})

	require.NoError(t, e.Load(context.Background(), path))
	require.NoError(t, e.Play())
	require.NoError(t, e.Seek(1000))
	assert.Equal(t, int32(1), s.flushes.Load())
	assert.GreaterOrEqual(t, e.Position(), time.Second)
}

func TestSeekAfterEndPauses(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})
	sub := e.Subscribe()

	require.NoError(t, e.Load(context.Background(), path))
	require.NoError(t, e.Play())
	waitEnded(t, sub)

	require.NoError(t, e.Seek(20))
	assert.Equal(t, Paused, e.State())
}

func TestPauseAndStop(t *testing.T) {
	path, _ := writeRamp(t, 44100*5)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})

	require.NoError(t, e.Load(context.Background(), path))
	require.NoError(t, e.Play())
	require.Eventually(t, func() bool { return e.Position() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, e.Pause())
	assert.Equal(t, Paused, e.State())
	pos := e.Position()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, pos, e.Position())

	require.NoError(t, e.Pause())
	assert.Equal(t, int32(1), s.pauses.Load(), "second pause is a no-op")

	require.NoError(t, e.Stop())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, time.Duration(0), e.Position())
	assert.Equal(t, int32(1), s.closes.Load())
}

func TestPullIsSilentUnlessPlaying(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	e := newTestEngine(t, newFakeSink(), Options{})

	buf := bytes.Repeat([]byte{0xff}, 64)
	assert.Equal(t, 16, e.Pull(buf, 16))
	assert.Equal(t, make([]byte, 64), buf)

	require.NoError(t, e.Load(context.Background(), path))
	buf = bytes.Repeat([]byte{0xff}, 64)
	e.Pull(buf, 16)
	assert.Equal(t, make([]byte, 64), buf, "loaded but not playing")
	assert.Equal(t, time.Duration(0), e.Position())
}

func TestVolume(t *testing.T) {
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})
	assert.Equal(t, 1.0, e.Volume())

	e.SetVolume(0.4)
	assert.Equal(t, 0.4, e.Volume())
	assert.Equal(t, 0.4, s.volume)
	e.SetVolume(3)
	assert.Equal(t, 1.0, e.Volume())
	e.SetVolume(-1)
	assert.Equal(t, 0.0, e.Volume())
}

func TestEagerStrategy(t *testing.T) {
	path, data := writeRamp(t, 4410)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{Strategy: source.StrategyEager, BitPerfect: true})
	sub := e.Subscribe()

	require.NoError(t, e.Load(context.Background(), path))
	require.NoError(t, e.Play())
	waitEnded(t, sub)
	assert.True(t, bytes.Contains(s.output(), data))
}

func TestDeviceLostEndsPlayback(t *testing.T) {
	path, _ := writeRamp(t, 44100*5)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{})
	sub := e.Subscribe()

	var reason atomic.Int32
	reason.Store(-1)
	e.OnPlaybackEnded(func(r EndReason, _ error) { reason.Store(int32(r)) })

	require.NoError(t, e.Load(context.Background(), path))
	require.NoError(t, e.Play())
	s.events <- sink.Event{Kind: sink.EventTerminal, Sink: "fake", Message: "gone", Err: errors.New("unplugged")}

	ev := waitEnded(t, sub)
	assert.Equal(t, EndDeviceLost, ev.Reason)
	assert.EqualError(t, ev.Err, "unplugged")
	assert.Equal(t, Ended, e.State())
	require.Eventually(t, func() bool { return reason.Load() == int32(EndDeviceLost) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), s.closes.Load())

	// the next Play reopens the sink
	require.NoError(t, e.Play())
	assert.Equal(t, int32(2), s.opens.Load())
}

func TestDowngradeReportsStatus(t *testing.T) {
	path, _ := writeRamp(t, 44100)
	s := newFakeSink()
	e := newTestEngine(t, s, Options{BitPerfect: true})
	sub := e.Subscribe()

	require.NoError(t, e.Load(context.Background(), path))
	require.True(t, e.Status().BitPerfect)
	s.events <- sink.Event{Kind: sink.EventDowngraded, Sink: "fake", Message: "shared mode"}

	select {
	case ev := <-sub.Status:
		assert.Equal(t, "shared mode", ev.Message)
		assert.False(t, ev.BitPerfect)
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
	assert.False(t, e.Status().BitPerfect)
}

func TestMetadata(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	e := newTestEngine(t, newFakeSink(), Options{})

	m := e.GetMetadata(path)
	assert.Equal(t, "wav", m.ContainerName)
	assert.Equal(t, int64(100), m.DurationMs)
	assert.Equal(t, Idle, e.State(), "probing does not load")

	require.NoError(t, e.Load(context.Background(), path))
	cur, ok := e.Metadata()
	require.True(t, ok)
	assert.Equal(t, m, cur)
}

func TestSubscriptionEvents(t *testing.T) {
	path, _ := writeRamp(t, 44100*5)
	e := newTestEngine(t, newFakeSink(), Options{})
	sub := e.Subscribe()

	require.NoError(t, e.Load(context.Background(), path))
	assert.Equal(t, Loaded, <-sub.StateChanged)
	require.NoError(t, e.Play())
	assert.Equal(t, Playing, <-sub.StateChanged)

	sub.Cancel()
	<-sub.Done
	require.NoError(t, e.Stop())
	assert.Len(t, sub.StateChanged, 0)

	other := e.Subscribe()
	require.NoError(t, e.Close())
	<-other.Done
	assert.ErrorIs(t, e.Load(context.Background(), path), ErrClosed)

	late := e.Subscribe()
	<-late.Done
}

func TestStatePredicates(t *testing.T) {
	tests := []struct {
		state            State
		name             string
		track, play, pse bool
	}{
		{Idle, "idle", false, false, false},
		{Loaded, "loaded", true, true, false},
		{Playing, "playing", true, false, true},
		{Paused, "paused", true, true, false},
		{Ended, "ended", true, true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.state.String())
		assert.Equal(t, tt.track, tt.state.HasTrack(), tt.name)
		assert.Equal(t, tt.play, tt.state.CanPlay(), tt.name)
		assert.Equal(t, tt.pse, tt.state.CanPause(), tt.name)
	}
	assert.Equal(t, "device-lost", EndDeviceLost.String())
}

func TestStopWhilePulling(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	e := newTestEngine(t, newFakeSink(), Options{})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 441*4)
		for {
			select {
			case <-done:
				return
			default:
			}
			e.Pull(buf, 441)
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Load(context.Background(), path))
		require.NoError(t, e.Play())
		require.NoError(t, e.Stop())
	}
	close(done)
	wg.Wait()

	assert.Equal(t, Idle, e.State())
	buf := bytes.Repeat([]byte{0xff}, 64)
	assert.Equal(t, 16, e.Pull(buf, 16))
	assert.Equal(t, make([]byte, 64), buf)
}

// writeVideoOnlyOgg writes an Ogg file whose only logical stream is Theora.
func writeVideoOnlyOgg(t *testing.T) string {
	t.Helper()
	head := append([]byte("\x80theora"), make([]byte, 34)...)
	page := make([]byte, 27)
	copy(page, "OggS")
	page[5] = 0x02
	binary.LittleEndian.PutUint32(page[14:], 3)
	page[26] = 1
	page = append(page, byte(len(head)))
	page = append(page, head...)

	path := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(path, page, 0o644))
	return path
}

func TestLoadWithoutAudioStream(t *testing.T) {
	path, _ := writeRamp(t, 4410)
	e := newTestEngine(t, newFakeSink(), Options{})
	require.NoError(t, e.Load(context.Background(), path))

	err := e.Load(context.Background(), writeVideoOnlyOgg(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrNoAudioStream))
	assert.Equal(t, Idle, e.State())
	_, ok := e.Metadata()
	assert.False(t, ok)
}

func TestEndSupersededByLaterCommand(t *testing.T) {
	tests := []struct {
		name    string
		command func(e *Engine) error
		ended   bool
	}{
		{"none", nil, true},
		{"seek", func(e *Engine) error { return e.Seek(0) }, false},
		{"play", (*Engine).Play, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// long enough that a restarted run cannot end during the test
			path, _ := writeRamp(t, testRate*5)
			s := newFakeSink()
			e := newTestEngine(t, s, Options{})
			require.NoError(t, e.Load(context.Background(), path))

			var calls atomic.Int32
			e.OnPlaybackEnded(func(EndReason, error) { calls.Add(1) })

			// what Pull does when the source runs dry
			e.mu.Lock()
			tr := e.track
			tr.ending = true
			e.state = Ended
			e.mu.Unlock()

			sub := e.Subscribe()
			if tt.command != nil {
				require.NoError(t, tt.command(e))
			}
			e.finish(tr, Ended{Path: path, Reason: EndNatural})

			var states []State
			for len(sub.StateChanged) > 0 {
				states = append(states, <-sub.StateChanged)
			}
			if tt.ended {
				assert.Equal(t, []State{Ended}, states)
				assert.Len(t, sub.Ended, 1)
				assert.Equal(t, int32(1), calls.Load())
				assert.Equal(t, Ended, e.State())
				return
			}
			assert.NotContains(t, states, Ended)
			assert.Len(t, sub.Ended, 0)
			assert.Equal(t, int32(0), calls.Load())
			assert.NotEqual(t, Ended, e.State())
		})
	}
}
