package sink

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
)

// Endpoint is where a Render sink writes. It owns the session volume.
type Endpoint interface {
	Name() string
	Open(format media.PCMFormat) error
	Write(p []byte) error
	SetVolume(v float64)
	Close() error
}

// Render is the driving sink. Its goroutine wakes every period and pulls
// as many frames as the endpoint buffer has room for. The buffer drains in
// wall-clock time, so a file endpoint renders at playback speed.
type Render struct {
	base
	endpoint Endpoint
	opts     Options
	log      *logrus.Entry

	mu       sync.Mutex
	format   media.PCMFormat
	puller   Puller
	capacity int64 // buffer frames
	padding  int64 // frames queued and not yet played
	last     time.Time
	buf      []byte
	open     bool
	stop     chan struct{}
	done     chan struct{}

	// now is replaced in tests.
	now func() time.Time
}

// NewRender returns a driving sink writing to endpoint.
func NewRender(endpoint Endpoint, opts Options) *Render {
	r := &Render{
		endpoint: endpoint,
		opts:     opts.withDefaults(),
		log:      logging.Logger.WithField("sink", endpoint.Name()),
		now:      time.Now,
	}
	r.init(endpoint.Name())
	return r
}

func (r *Render) Capabilities() Capabilities {
	return Capabilities{
		Name:       r.endpoint.Name(),
		Formats:    []media.SampleFormat{media.FormatS16, media.FormatS32, media.FormatF32},
		BitPerfect: true,
	}
}

func (r *Render) Open(format media.PCMFormat, p Puller) error {
	if !format.Valid() {
		return media.SinkOpenError(r.endpoint.Name(), errors.Errorf("invalid format %v", format))
	}
	if err := r.endpoint.Open(format); err != nil {
		return media.SinkOpenError(r.endpoint.Name(), err)
	}
	r.endpoint.SetVolume(r.vol())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = format
	r.puller = p
	r.capacity = format.DurationToFrames(r.opts.bufferDuration())
	r.padding = 0
	r.open = true
	r.perfect.Store(true)
	r.log.WithField("format", format.String()).Info("render sink opened")
	return nil
}

// period is half the buffer, the usual shared-mode wake-up interval.
func (r *Render) period() time.Duration {
	return r.opts.bufferDuration() / 2
}

func (r *Render) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return media.SinkOpenError(r.endpoint.Name(), errors.New("sink not open"))
	}
	if r.stop != nil {
		return nil
	}
	r.last = r.now()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)
	return nil
}

func (r *Render) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.period())
	defer ticker.Stop()

	r.render()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.render()
		}
	}
}

// render performs one wake-up: drain padding by elapsed time, then fill the
// headroom.
func (r *Render) render() {
	r.mu.Lock()
	now := r.now()
	played := r.format.DurationToFrames(now.Sub(r.last))
	r.last = now
	if played > r.padding {
		if r.rendered.Load() > 0 {
			// the endpoint ran dry before this wake-up
			r.under.Add(1)
		}
		played = r.padding
	}
	r.padding -= played
	headroom := r.capacity - r.padding
	if headroom <= 0 {
		r.mu.Unlock()
		return
	}
	need := int(headroom) * r.format.FrameSize()
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]
	puller := r.puller
	r.padding += headroom
	r.mu.Unlock()

	puller.Pull(buf, int(headroom))
	if err := r.endpoint.Write(buf); err != nil {
		r.writeErr.Add(1)
		r.log.WithError(media.SinkWriteError(r.endpoint.Name(), err)).Warn("endpoint write failed")
		return
	}
	r.rendered.Add(headroom)
}

func (r *Render) Pause() error {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	// the loop may be inside Pull, which can block on the caller's lock
	<-done
	return nil
}

// Flush forgets queued frames so the next wake-up refills the whole buffer.
func (r *Render) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.padding = 0
	return nil
}

func (r *Render) SetVolume(v float64) {
	r.base.SetVolume(v)
	r.endpoint.SetVolume(r.vol())
}

func (r *Render) Close() error {
	if err := r.Pause(); err != nil {
		return err
	}
	r.mu.Lock()
	wasOpen := r.open
	r.open = false
	r.mu.Unlock()
	if !wasOpen {
		return nil
	}
	return r.endpoint.Close()
}
