// Package logging owns the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotate "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Logger is shared by all packages. It discards output until Init runs so
// that library use and tests stay quiet.
var Logger = newDiscardLogger()

func newDiscardLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// Options configures Init.
type Options struct {
	Level string
	// Dir enables daily-rotated files under Dir; empty logs to stderr.
	Dir    string
	Name   string
	Format string // "text" or "json"
	MaxAge time.Duration
}

// Init configures Logger. Stdout is never used since it belongs to the TUI.
func Init(opts Options) error {
	var out io.Writer = os.Stderr
	if opts.Dir != "" {
		name := opts.Name
		if name == "" {
			name = "toney.log"
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return errors.Wrap(err, "creating log directory")
		}
		maxAge := opts.MaxAge
		if maxAge <= 0 {
			maxAge = 7 * 24 * time.Hour
		}
		pattern := filepath.Join(opts.Dir, "%Y%m%d_"+name)
		writer, err := rotate.New(
			pattern,
			rotate.WithLinkName(filepath.Join(opts.Dir, name)),
			rotate.WithMaxAge(maxAge),
			rotate.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return errors.Wrap(err, "opening rotating log")
		}
		out = writer
	}
	Logger.SetOutput(out)

	if strings.EqualFold(opts.Format, "json") {
		Logger.SetFormatter(&log.JSONFormatter{})
	} else {
		Logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	lvl, err := log.ParseLevel(opts.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	Logger.SetLevel(lvl)
	Logger.WithField("level", lvl.String()).Debug("logger initialised")
	return nil
}
