package sink

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
)

var malgoFormats = map[media.SampleFormat]malgo.FormatType{
	media.FormatU8:  malgo.FormatU8,
	media.FormatS16: malgo.FormatS16,
	media.FormatS24: malgo.FormatS24,
	media.FormatS32: malgo.FormatS32,
	media.FormatF32: malgo.FormatF32,
}

// Malgo renders through miniaudio. It opens the device at the source format,
// and in exclusive mode when bit-perfect output is requested.
type Malgo struct {
	base
	opts Options
	log  *logrus.Entry

	mu        sync.Mutex
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	format    media.PCMFormat
	puller    Puller
	exclusive bool
	recovered bool
	// renderedAtRecovery is the frame count when the device was last reopened
	renderedAtRecovery int64
	// running and stopping are read by the stop callback, which may fire
	// while mu is held.
	running  atomic.Bool
	stopping atomic.Bool
}

// NewMalgo returns an unopened malgo sink.
func NewMalgo(opts Options) *Malgo {
	s := &Malgo{
		opts: opts.withDefaults(),
		log:  logging.Logger.WithField("sink", "malgo"),
	}
	s.init("malgo")
	return s
}

func (s *Malgo) Capabilities() Capabilities {
	c := Capabilities{
		Name:           "malgo",
		Formats:        []media.SampleFormat{media.FormatS16, media.FormatS24, media.FormatS32, media.FormatF32},
		BitPerfect:     true,
		SoftwareVolume: true,
	}
	if !s.opts.AutoSampleRate {
		c.SampleRate = s.opts.SampleRate
	}
	return c
}

func (s *Malgo) Open(format media.PCMFormat, p Puller) error {
	if _, ok := malgoFormats[format.Format]; !ok {
		return media.SinkOpenError("malgo", errors.Errorf("unsupported sample format %v", format.Format))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
			s.log.Debug(msg)
		})
		if err != nil {
			return media.SinkOpenError("malgo", err)
		}
		s.ctx = ctx
	}
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	s.format = format
	s.puller = p
	s.exclusive = s.opts.Exclusive

	if err := s.initDevice(); err != nil {
		if !s.exclusive {
			return media.SinkOpenError("malgo", err)
		}
		s.log.WithError(err).Warn("exclusive mode refused, using shared mode")
		s.exclusive = false
		if err := s.initDevice(); err != nil {
			return media.SinkOpenError("malgo", err)
		}
		s.emit(EventDowngraded, "exclusive mode unavailable, playing in shared mode", err)
	}
	s.perfect.Store(s.exclusive)
	s.log.WithFields(logrus.Fields{
		"format":    format.String(),
		"exclusive": s.exclusive,
	}).Info("malgo sink opened")
	return nil
}

// initDevice must be called with mu held.
func (s *Malgo) initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgoFormats[s.format.Format]
	cfg.Playback.Channels = uint32(s.format.Channels)
	cfg.SampleRate = uint32(s.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(s.opts.BufferMs / 2)
	if s.exclusive {
		cfg.Playback.ShareMode = malgo.Exclusive
	} else {
		cfg.Playback.ShareMode = malgo.Shared
	}

	frameSize := s.format.FrameSize()
	sampleFormat := s.format.Format
	puller := s.puller
	device, err := malgo.InitDevice(s.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frames uint32) {
			n := int(frames)
			buf := out[:n*frameSize]
			puller.Pull(buf, n)
			applyVolume(buf, sampleFormat, s.vol())
			s.rendered.Add(int64(n))
		},
		Stop: s.onStop,
	})
	if err != nil {
		return err
	}
	s.device = device
	return nil
}

// onStop runs on a miniaudio thread.
func (s *Malgo) onStop() {
	if s.running.Load() && !s.stopping.Load() {
		go s.recover()
	}
}

// recover reopens the device once per disconnect.
func (s *Malgo) recover() {
	s.emit(EventDeviceLost, "audio device lost", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if !s.claimRecovery() {
		s.running.Store(false)
		s.emit(EventTerminal, "audio device unavailable", media.SinkWriteError("malgo", errors.New("device lost twice")))
		return
	}
	err := s.initDevice()
	if err == nil {
		err = s.device.Start()
	}
	if err != nil {
		s.running.Store(false)
		s.log.WithError(err).Error("reopening device failed")
		s.emit(EventTerminal, "audio device unavailable", media.SinkOpenError("malgo", err))
		return
	}
	s.log.Info("device reopened")
	s.emit(EventRecovered, "audio device reopened", nil)
}

// claimRecovery allows one reopen per disconnect. A loss before any audio
// was rendered on the reopened device counts as the same disconnect. mu
// must be held.
func (s *Malgo) claimRecovery() bool {
	rendered := s.rendered.Load()
	if s.recovered && rendered <= s.renderedAtRecovery {
		return false
	}
	s.recovered = true
	s.renderedAtRecovery = rendered
	return true
}

func (s *Malgo) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return media.SinkOpenError("malgo", errors.New("sink not open"))
	}
	if s.running.Load() {
		return nil
	}
	if err := s.device.Start(); err != nil {
		return media.SinkOpenError("malgo", err)
	}
	s.running.Store(true)
	s.recovered = false
	return nil
}

func (s *Malgo) Pause() error {
	s.mu.Lock()
	if s.device == nil || !s.running.Load() {
		s.mu.Unlock()
		return nil
	}
	s.stopping.Store(true)
	device := s.device
	s.mu.Unlock()

	err := device.Stop()
	s.running.Store(false)
	s.stopping.Store(false)
	if err != nil {
		return media.SinkWriteError("malgo", err)
	}
	return nil
}

// Flush is a no-op: miniaudio holds at most one period.
func (s *Malgo) Flush() error { return nil }

func (s *Malgo) Close() error {
	if err := s.Pause(); err != nil {
		s.log.WithError(err).Warn("stopping device")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}
