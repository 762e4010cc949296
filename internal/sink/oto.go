package sink

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
)

var (
	globalOtoCtx *oto.Context
	otoOnce      sync.Once
	otoInitErr   error
	otoFormat    media.PCMFormat
)

// initOto creates the process-wide oto context; oto allows only one, so
// the first caller's rate and channel count win.
func initOto(opts Options) (*oto.Context, media.PCMFormat, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   opts.SampleRate,
			ChannelCount: opts.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   opts.bufferDuration(),
		}
		var ready chan struct{}
		globalOtoCtx, ready, otoInitErr = oto.NewContext(op)
		if otoInitErr == nil {
			<-ready
			otoFormat = media.NewPCMFormat(opts.SampleRate, opts.Channels, media.FormatF32)
		}
	})
	return globalOtoCtx, otoFormat, otoInitErr
}

const otoMonitorInterval = 500 * time.Millisecond

// Oto renders through ebitengine/oto. The device runs at one fixed rate
// and channel count in float32.
type Oto struct {
	base
	opts Options
	log  *logrus.Entry

	mu      sync.Mutex
	ctx     *oto.Context
	format  media.PCMFormat
	reader  *pullReader
	player  *oto.Player
	playing bool
	stop    chan struct{}
}

// NewOto returns an unopened oto sink.
func NewOto(opts Options) *Oto {
	s := &Oto{
		opts: opts.withDefaults(),
		log:  logging.Logger.WithField("sink", "oto"),
	}
	s.init("oto")
	return s
}

func (s *Oto) Capabilities() Capabilities {
	rate, channels := s.opts.SampleRate, s.opts.Channels
	if otoFormat.Valid() {
		rate, channels = otoFormat.SampleRate, otoFormat.Channels
	}
	return Capabilities{
		Name:           "oto",
		Formats:        []media.SampleFormat{media.FormatF32},
		SampleRate:     rate,
		Channels:       channels,
		SoftwareVolume: true,
	}
}

func (s *Oto) Open(format media.PCMFormat, p Puller) error {
	ctx, device, err := initOto(s.opts)
	if err != nil {
		return media.SinkOpenError("oto", err)
	}
	if format.SampleRate != device.SampleRate || format.Channels != device.Channels || format.Format != media.FormatF32 {
		return media.SinkOpenError("oto", errors.Errorf("device runs %v, got %v", device, format))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.format = format
	s.reader = &pullReader{puller: p, frameSize: format.FrameSize(), rendered: &s.rendered}
	s.player = ctx.NewPlayer(s.reader)
	s.player.SetVolume(s.vol())
	s.stop = make(chan struct{})
	go s.monitor(s.stop)
	s.log.WithField("format", format.String()).Info("oto sink opened")
	return nil
}

func (s *Oto) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return media.SinkOpenError("oto", errors.New("sink not open"))
	}
	s.player.Play()
	s.playing = true
	return nil
}

func (s *Oto) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.Pause()
	}
	s.playing = false
	return nil
}

// Flush recreates the oto player to drop its buffered audio.
func (s *Oto) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	s.player.Pause()
	s.reader.reset()
	s.player = s.ctx.NewPlayer(s.reader)
	s.player.SetVolume(s.vol())
	if s.playing {
		s.player.Play()
	}
	return nil
}

func (s *Oto) SetVolume(v float64) {
	s.base.SetVolume(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.SetVolume(s.vol())
	}
}

func (s *Oto) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.player != nil {
		// oto keeps no per-player device resources once paused
		s.player.Pause()
		s.player = nil
	}
	s.playing = false
	return nil
}

// monitor watches for device errors. A failing player is recreated once;
// a second failure before any audio is rendered is terminal.
func (s *Oto) monitor(stop <-chan struct{}) {
	ticker := time.NewTicker(otoMonitorInterval)
	defer ticker.Stop()

	recovering := false
	var renderedAtRecovery int64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.player == nil {
			s.mu.Unlock()
			return
		}
		err := s.player.Err()
		if err == nil {
			err = s.ctx.Err()
		}
		if err == nil {
			if recovering && s.rendered.Load() > renderedAtRecovery {
				recovering = false
			}
			s.mu.Unlock()
			continue
		}

		if recovering {
			s.player.Pause()
			s.player = nil
			s.mu.Unlock()
			s.log.WithError(err).Error("oto device lost again")
			s.emit(EventTerminal, "audio device unavailable", media.SinkWriteError("oto", err))
			return
		}

		s.log.WithError(err).Warn("oto device lost, recreating player")
		s.emit(EventDeviceLost, "audio device lost", err)
		recovering = true
		renderedAtRecovery = s.rendered.Load()
		s.player.Pause()
		s.reader.reset()
		s.player = s.ctx.NewPlayer(s.reader)
		s.player.SetVolume(s.vol())
		if s.playing {
			s.player.Play()
		}
		s.mu.Unlock()
		s.emit(EventRecovered, "audio device reopened", nil)
	}
}
