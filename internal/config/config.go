// Package config loads toney's TOML configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/sink"
	"github.com/djbird2046/toney-music/internal/source"
)

// EnvPath names an extra config file read last.
const EnvPath = "TONEY_CONFIG"

type Config struct {
	Playback Playback `koanf:"playback"`
	Log      Log      `koanf:"log"`
	Remote   Remote   `koanf:"remote"`
}

// Playback configures the engine and its output.
type Playback struct {
	Strategy   string   `koanf:"strategy"` // "streaming" or "eager"
	BitPerfect bool     `koanf:"bit_perfect"`
	Volume     *float64 `koanf:"volume"` // 0..1 (default: 0.8)
	// Output is oto, malgo, null or wav:<path>.
	Output         string `koanf:"output"`
	SampleRate     int    `koanf:"sample_rate"` // fixed output rate (default: 48000)
	BufferMs       int    `koanf:"buffer_ms"`   // device buffer (default: 100)
	Exclusive      bool   `koanf:"exclusive"`
	AutoSampleRate *bool  `koanf:"auto_sample_rate"` // malgo opens at the source rate (default: true)
}

type Log struct {
	Level  string `koanf:"level"`
	File   string `koanf:"file"` // log directory; empty logs to stderr
	Format string `koanf:"format"`
}

// Remote configures the MQTT command surface.
type Remote struct {
	Enabled     bool   `koanf:"enabled"`
	Broker      string `koanf:"broker"`
	ClientID    string `koanf:"client_id"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	TopicPrefix string `koanf:"topic_prefix"`
}

// Load reads every config file that exists, later files winning, and
// applies defaults.
func Load() (*Config, error) {
	return LoadFiles(configPaths()...)
}

// LoadFiles is Load over an explicit list of candidate files.
func LoadFiles(paths ...string) (*Config, error) {
	k := koanf.New(".")
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "loading %s", path)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	cfg.Normalize()
	return cfg, nil
}

func configPaths() []string {
	var paths []string

	// 1. ~/.config/toney/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "toney", "config.toml"))
	}

	// 2. ./config.toml
	paths = append(paths, "config.toml")

	// 3. $TONEY_CONFIG
	if p := os.Getenv(EnvPath); p != "" {
		paths = append(paths, expandPath(p))
	}
	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Normalize applies defaults and clamps out-of-range values.
func (c *Config) Normalize() {
	p := &c.Playback
	p.Strategy = source.ParseStrategy(p.Strategy).String()
	if p.Volume == nil {
		v := 0.8
		p.Volume = &v
	} else if *p.Volume < 0 || *p.Volume > 1 {
		v := min(max(*p.Volume, 0), 1)
		p.Volume = &v
	}
	p.Output = strings.TrimSpace(p.Output)
	if p.Output == "" {
		p.Output = "oto"
	}
	if strings.HasPrefix(p.Output, "wav:") {
		p.Output = "wav:" + expandPath(strings.TrimPrefix(p.Output, "wav:"))
	}
	if p.SampleRate <= 0 {
		p.SampleRate = 48000
	}
	if p.BufferMs <= 0 {
		p.BufferMs = 100
	}
	if p.AutoSampleRate == nil {
		on := true
		p.AutoSampleRate = &on
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	c.Log.File = expandPath(c.Log.File)

	r := &c.Remote
	if r.Broker == "" {
		r.Broker = "tcp://127.0.0.1:1883"
	}
	if r.ClientID == "" {
		r.ClientID = "toney"
	}
	r.TopicPrefix = strings.Trim(r.TopicPrefix, "/")
	if r.TopicPrefix == "" {
		r.TopicPrefix = "toney"
	}
}

// SinkOptions are the options for sink.New.
func (p Playback) SinkOptions() sink.Options {
	return sink.Options{
		SampleRate:     p.SampleRate,
		BufferMs:       p.BufferMs,
		Exclusive:      p.Exclusive,
		AutoSampleRate: p.AutoSampleRate != nil && *p.AutoSampleRate,
	}
}

// VolumeLevel is the configured volume, 0.8 when unset.
func (p Playback) VolumeLevel() float64 {
	if p.Volume == nil {
		return 0.8
	}
	return *p.Volume
}

// LoggingOptions are the options for logging.Init.
func (l Log) LoggingOptions() logging.Options {
	return logging.Options{Level: l.Level, Dir: l.File, Format: l.Format}
}
