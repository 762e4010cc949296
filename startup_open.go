package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/config"
	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/player"
	"github.com/djbird2046/toney-music/internal/remote"
	"github.com/djbird2046/toney-music/internal/sink"
	"github.com/djbird2046/toney-music/internal/source"
	"github.com/djbird2046/toney-music/internal/ui"
)

// app is everything a running toney process owns.
type app struct {
	cfg    *config.Config
	engine *player.Engine
	server *remote.Server
}

func newApp(cfg *config.Config) (*app, error) {
	out, err := sink.New(cfg.Playback.Output, cfg.Playback.SinkOptions())
	if err != nil {
		return nil, err
	}
	eng := player.New(player.Options{
		Sink:       out,
		Strategy:   source.ParseStrategy(cfg.Playback.Strategy),
		BitPerfect: cfg.Playback.BitPerfect,
	})
	eng.SetVolume(cfg.Playback.VolumeLevel())
	return &app{cfg: cfg, engine: eng}, nil
}

// startRemote serves the MQTT surface when it is enabled (or forced).
func (a *app) startRemote(ctx context.Context, force bool) error {
	if !a.cfg.Remote.Enabled && !force {
		return nil
	}
	a.server = remote.NewServer(a.engine, a.cfg.Remote)
	if err := a.server.Start(ctx, a.engine.Subscribe()); err != nil {
		a.server = nil
		return err
	}
	logging.Logger.WithField("broker", a.cfg.Remote.Broker).Info("remote control enabled")
	return nil
}

func (a *app) close() {
	if a.server != nil {
		a.server.Stop()
	}
	if err := a.engine.Close(); err != nil {
		logging.Logger.WithError(err).Warn("closing engine")
	}
}

// checkPath rejects what the engine would reject, with friendlier errors.
func checkPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.Errorf("%s is a directory", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !media.IsSupportedExt(ext) {
		return errors.Errorf("unsupported format %s (supported: %s)", ext, media.SupportedExtsList())
	}
	return nil
}

// openPlayback loads path, starts it and returns the now-playing model.
func openPlayback(ctx context.Context, eng *player.Engine, path string) (ui.Model, error) {
	if err := checkPath(path); err != nil {
		return ui.Model{}, err
	}
	if err := eng.Load(ctx, path); err != nil {
		return ui.Model{}, err
	}
	meta, _ := eng.Metadata()
	if err := eng.Play(); err != nil {
		_ = eng.Stop()
		return ui.Model{}, err
	}
	return ui.New(eng, eng.Subscribe(), path, meta), nil
}
