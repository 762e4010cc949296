// Package player owns playback state and feeds the output sink.
package player

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djbird2046/toney-music/internal/convert"
	"github.com/djbird2046/toney-music/internal/decode"
	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
	"github.com/djbird2046/toney-music/internal/sink"
	"github.com/djbird2046/toney-music/internal/source"
)

var (
	// ErrNoTrack is returned by commands that need a loaded track.
	ErrNoTrack = errors.New("no track loaded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Options configures an Engine.
type Options struct {
	Sink sink.Sink
	// Prober defaults to one accepting every registered decoder.
	Prober *probe.Prober
	// Open defaults to decode.Open.
	Open       decode.Factory
	Strategy   source.Strategy
	BitPerfect bool
}

// track is the live decode session.
type track struct {
	path       string
	src        source.Source
	meta       media.TrackMetadata
	bitPerfect bool
	// ending is set once the end of the track has been reported by Pull.
	ending bool
}

// Status is a snapshot for display.
type Status struct {
	State          State
	Path           string
	Position       time.Duration
	Duration       time.Duration
	Volume         float64
	RenderedFrames int64
	Underflows     int64
	BitPerfect     bool
}

// Engine plays one track at a time.
//
// mu guards playback state and is the only lock Pull takes. ctl serialises
// commands; sink control calls are made holding ctl but never mu, because
// stopping a device waits for a callback that may be blocked in Pull.
type Engine struct {
	sink   sink.Sink
	prober *probe.Prober
	open   decode.Factory
	log    *logrus.Entry
	hub    *hub
	done   chan struct{}

	ctl sync.Mutex

	mu         sync.Mutex
	state      State
	track      *track
	strategy   source.Strategy
	bitPerfect bool
	sinkOpen   bool
	closed     bool
	onEnded    func(EndReason, error)

	volume atomic.Uint64
}

// New returns an idle engine rendering to opts.Sink.
func New(opts Options) *Engine {
	e := &Engine{
		sink:       opts.Sink,
		prober:     opts.Prober,
		open:       opts.Open,
		log:        logging.Logger.WithField("component", "player"),
		hub:        newHub(),
		done:       make(chan struct{}),
		strategy:   opts.Strategy,
		bitPerfect: opts.BitPerfect,
	}
	if e.prober == nil {
		e.prober = probe.New(decode.CanDecode)
	}
	if e.open == nil {
		e.open = decode.Open
	}
	e.volume.Store(math.Float64bits(1))
	go e.watchSink()
	return e
}

// Load replaces the current track with path. The previous track is torn
// down first, so a failed load leaves the engine Idle.
func (e *Engine) Load(ctx context.Context, path string) error {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.isClosed() {
		return ErrClosed
	}
	e.teardown()

	t, err := e.openTrack(ctx, path)
	if err != nil {
		e.log.WithError(err).WithField("path", path).Warn("load failed")
		e.hub.error(ErrorEvent{Operation: "load", Path: path, Err: err})
		return err
	}

	e.mu.Lock()
	e.track = t
	e.state = Loaded
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"path":        path,
		"codec":       t.meta.CodecName,
		"output":      t.src.Format().String(),
		"bit_perfect": t.bitPerfect,
	}).Info("track loaded")
	e.hub.state(Loaded)
	return nil
}

func (e *Engine) openTrack(ctx context.Context, path string) (*track, error) {
	res, err := e.prober.Open(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	strategy, wantPerfect := e.strategy, e.bitPerfect
	e.mu.Unlock()

	conv, err := e.converter(res, wantPerfect)
	if err != nil {
		return nil, err
	}
	dec, err := e.open(res)
	if err != nil {
		return nil, err
	}

	var src source.Source
	switch strategy {
	case source.StrategyEager:
		eager, err := source.NewEager(ctx, path, dec, conv, res.TotalFrames())
		if err != nil {
			return nil, err
		}
		src = eager
	default:
		src = source.NewStreaming(path, dec, conv, res.TotalFrames())
	}

	return &track{
		path:       path,
		src:        src,
		meta:       res.Metadata(),
		bitPerfect: conv.Policy() == convert.BitExact && conv.BitPerfect(),
	}, nil
}

// converter targets the sink. Bit-exact output is attempted only when both
// the caller and the sink want it; a pair that cannot be bit-exact falls
// back to the software path.
func (e *Engine) converter(res *probe.Result, wantPerfect bool) (*convert.Converter, error) {
	st := res.Stream()
	in := convert.Input{SampleRate: st.SampleRate, Channels: st.Channels, Format: st.SampleFormat}
	if in.Format == media.FormatUnknown {
		in.Format = media.FormatF32
	}
	caps := e.sink.Capabilities()
	target := convert.Target{SampleRate: caps.SampleRate, Channels: caps.Channels, Allowed: caps.Formats}

	if wantPerfect && caps.BitPerfect {
		conv, err := convert.New(in, convert.BitExact, target)
		if err == nil {
			return conv, nil
		}
		e.log.WithError(err).WithField("sink", caps.Name).Warn("bit-perfect output unavailable, converting")
	}
	return convert.New(in, convert.SoftwareFriendly, target)
}

// teardown must be called with ctl held.
func (e *Engine) teardown() {
	e.mu.Lock()
	t := e.track
	prev := e.state
	wasOpen := e.sinkOpen
	e.track = nil
	e.state = Idle
	e.sinkOpen = false
	e.mu.Unlock()

	if wasOpen {
		if err := e.sink.Close(); err != nil {
			e.log.WithError(err).Warn("closing sink")
		}
	}
	if t != nil {
		if err := t.src.Close(); err != nil {
			e.log.WithError(err).WithField("path", t.path).Warn("closing track")
		}
	}
	if prev != Idle {
		e.hub.state(Idle)
	}
}

// Play starts or resumes output. From Ended it restarts at the beginning.
func (e *Engine) Play() error {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	e.mu.Lock()
	t := e.track
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case t == nil:
		e.mu.Unlock()
		return ErrNoTrack
	case e.state == Playing:
		e.mu.Unlock()
		return nil
	case e.state == Ended:
		if err := t.src.Seek(0); err != nil {
			e.mu.Unlock()
			return err
		}
		t.ending = false
	}
	needOpen := !e.sinkOpen
	format := t.src.Format()
	e.mu.Unlock()

	if needOpen {
		e.sink.SetVolume(e.Volume())
		if err := e.sink.Open(format, e); err != nil {
			e.log.WithError(err).Error("opening sink")
			e.hub.error(ErrorEvent{Operation: "play", Path: t.path, Err: err})
			return err
		}
		e.mu.Lock()
		e.sinkOpen = true
		e.mu.Unlock()
	}

	// Pull stays silent until the state flips, so starting first is safe.
	if err := e.sink.Start(); err != nil {
		e.log.WithError(err).Error("starting sink")
		e.hub.error(ErrorEvent{Operation: "play", Path: t.path, Err: err})
		return err
	}
	e.setState(Playing)
	return nil
}

// Pause stops output and keeps the position. It is a no-op unless playing.
func (e *Engine) Pause() error {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	e.mu.Lock()
	if !e.state.CanPause() {
		e.mu.Unlock()
		return nil
	}
	e.state = Paused
	e.mu.Unlock()

	if err := e.sink.Pause(); err != nil {
		e.log.WithError(err).Warn("pausing sink")
	}
	e.hub.state(Paused)
	return nil
}

// Stop closes the sink and the track. It always succeeds.
func (e *Engine) Stop() error {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	e.teardown()
	return nil
}

// Seek moves to ms. Output restarts from the new position when playing.
func (e *Engine) Seek(ms int64) error {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	e.mu.Lock()
	t := e.track
	if t == nil {
		e.mu.Unlock()
		return media.SeekError(ErrNoTrack)
	}
	if ms < 0 {
		e.mu.Unlock()
		return media.SeekError(errors.Errorf("negative position %d ms", ms))
	}
	if d := e.durationLocked(); d > 0 && time.Duration(ms)*time.Millisecond > d {
		e.mu.Unlock()
		return media.SeekError(errors.Errorf("position %d ms is past the end (%v)", ms, d))
	}
	if err := t.src.Seek(t.src.Format().MillisToFrames(ms)); err != nil {
		e.mu.Unlock()
		return media.SeekError(err)
	}
	t.ending = false
	resumed := e.state == Ended
	if resumed {
		e.state = Paused
	}
	playing := e.state == Playing
	e.mu.Unlock()

	if playing {
		if err := e.sink.Flush(); err != nil {
			e.log.WithError(err).Warn("flushing sink")
		}
	}
	if resumed {
		e.hub.state(Paused)
	}
	return nil
}

// SetVolume clamps v to [0,1]. It may be called in any state.
func (e *Engine) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	e.volume.Store(math.Float64bits(v))
	e.sink.SetVolume(v)
}

func (e *Engine) Volume() float64 {
	return math.Float64frombits(e.volume.Load())
}

// Metadata returns the current track's record.
func (e *Engine) Metadata() (media.TrackMetadata, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track == nil {
		return media.TrackMetadata{}, false
	}
	return e.track.meta, true
}

// GetMetadata probes path without touching playback.
func (e *Engine) GetMetadata(path string) media.TrackMetadata {
	return e.prober.GetMetadata(path)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Position is the playback position of the frames handed to the sink.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track == nil {
		return 0
	}
	return e.track.src.Format().FramesToDuration(e.track.src.Position())
}

// Duration is 0 when unknown.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationLocked()
}

func (e *Engine) durationLocked() time.Duration {
	if e.track == nil {
		return 0
	}
	if e.track.meta.DurationMs > 0 {
		return e.track.meta.Duration()
	}
	return e.track.src.Format().FramesToDuration(e.track.src.Length())
}

func (e *Engine) Status() Status {
	stats := e.sink.Stats()

	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		State:          e.state,
		Volume:         e.Volume(),
		RenderedFrames: stats.RenderedFrames,
		Underflows:     stats.Underflows,
	}
	if t := e.track; t != nil {
		st.Path = t.path
		st.Position = t.src.Format().FramesToDuration(t.src.Position())
		st.Duration = e.durationLocked()
		st.BitPerfect = t.bitPerfect && (!e.sinkOpen || stats.BitPerfect)
	}
	return st
}

// Subscribe returns a new event subscription.
func (e *Engine) Subscribe() *Subscription {
	return e.hub.subscribe()
}

// OnPlaybackEnded registers fn, replacing any previous callback. fn runs
// outside the engine lock and may call back into the engine.
func (e *Engine) OnPlaybackEnded(fn func(reason EndReason, err error)) {
	e.mu.Lock()
	e.onEnded = fn
	e.mu.Unlock()
}

// SetBitPerfect applies from the next Load.
func (e *Engine) SetBitPerfect(on bool) {
	e.mu.Lock()
	e.bitPerfect = on
	e.mu.Unlock()
}

// SetStrategy applies from the next Load.
func (e *Engine) SetStrategy(s source.Strategy) {
	e.mu.Lock()
	e.strategy = s
	e.mu.Unlock()
}

// Close stops playback and releases the sink. Subscriptions see Done.
func (e *Engine) Close() error {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.isClosed() {
		return nil
	}
	e.teardown()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	close(e.done)
	e.hub.close()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.hub.state(s)
}

// Pull implements sink.Puller. It runs on the audio thread: it never
// blocks on anything but mu and emits silence when there is nothing to
// play.
func (e *Engine) Pull(dst []byte, frames int) int {
	e.mu.Lock()
	t := e.track
	if t == nil || e.state != Playing {
		e.mu.Unlock()
		clear(dst)
		return frames
	}
	n := t.src.Fill(dst, frames)
	if t.src.Exhausted() && !t.ending {
		t.ending = true
		e.state = Ended
		ev := Ended{Path: t.path, Reason: EndNatural}
		if err := t.src.Err(); err != nil {
			ev.Reason, ev.Err = EndError, err
		}
		go e.finish(t, ev)
	}
	e.mu.Unlock()
	return n
}

// finish pauses the sink after the end of a track and notifies listeners.
// A Play, Seek or Stop that got ctl first supersedes the end.
func (e *Engine) finish(t *track, ev Ended) {
	e.ctl.Lock()
	e.mu.Lock()
	ended := e.track == t && e.state == Ended
	e.mu.Unlock()
	if ended {
		if err := e.sink.Pause(); err != nil {
			e.log.WithError(err).Warn("pausing sink")
		}
		// under ctl, so it cannot overtake the next command's state
		e.hub.state(Ended)
	}
	e.ctl.Unlock()

	if !ended {
		return
	}
	e.notifyEnded(ev)
}

func (e *Engine) notifyEnded(ev Ended) {
	log := e.log.WithFields(logrus.Fields{"path": ev.Path, "reason": ev.Reason.String()})
	if ev.Err != nil {
		log.WithError(ev.Err).Warn("playback ended")
	} else {
		log.Info("playback ended")
	}

	e.mu.Lock()
	fn := e.onEnded
	e.mu.Unlock()

	e.hub.ended(ev)
	if fn != nil {
		fn(ev.Reason, ev.Err)
	}
}

func (e *Engine) watchSink() {
	events := e.sink.Events()
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleSinkEvent(ev)
		}
	}
}

func (e *Engine) handleSinkEvent(ev sink.Event) {
	log := e.log.WithFields(logrus.Fields{"sink": ev.Sink, "event": ev.Kind.String()})
	switch ev.Kind {
	case sink.EventDeviceLost, sink.EventRecovered:
		log.Warn(ev.Message)
		e.hub.status(StatusChanged{Message: ev.Message, BitPerfect: e.Status().BitPerfect})

	case sink.EventDowngraded:
		log.WithError(ev.Err).Warn(ev.Message)
		e.mu.Lock()
		if e.track != nil {
			e.track.bitPerfect = false
		}
		e.mu.Unlock()
		e.hub.status(StatusChanged{Message: ev.Message, BitPerfect: false})

	case sink.EventTerminal:
		log.WithError(ev.Err).Error(ev.Message)
		e.ctl.Lock()
		e.mu.Lock()
		t := e.track
		active := t != nil && (e.state == Playing || e.state == Paused)
		if active {
			t.ending = true
			e.state = Ended
		}
		wasOpen := e.sinkOpen
		e.sinkOpen = false
		e.mu.Unlock()
		if wasOpen {
			if err := e.sink.Close(); err != nil {
				e.log.WithError(err).Warn("closing sink")
			}
		}
		if active {
			e.hub.state(Ended)
		}
		e.ctl.Unlock()

		if active {
			e.notifyEnded(Ended{Path: t.path, Reason: EndDeviceLost, Err: ev.Err})
		}
	}
}
