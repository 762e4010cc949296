package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/djbird2046/toney-music/internal/config"
	"github.com/djbird2046/toney-music/internal/decode"
	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/probe"
)

const usage = `usage:
  toney               browse the current directory
  toney <file>        play a file
  toney info <file>   print the metadata record as JSON
  toney serve [file]  run headless with the MQTT remote enabled
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help"):
		fmt.Print(usage)
		return nil
	case len(args) > 0 && args[0] == "info":
		if len(args) != 2 {
			return fmt.Errorf("info needs exactly one file\n%s", usage)
		}
		return runInfo(args[1])
	case len(args) > 0 && args[0] == "serve":
		if err := logging.Init(cfg.Log.LoggingOptions()); err != nil {
			return err
		}
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		return runServe(ctx, cfg, path)
	}

	// stderr belongs to the terminal while the TUI runs
	if cfg.Log.File != "" {
		if err := logging.Init(cfg.Log.LoggingOptions()); err != nil {
			return err
		}
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.startRemote(ctx, false); err != nil {
		return err
	}

	var model tea.Model
	if len(args) == 0 {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		model = newStartupModel(dir, a.engineOpener(ctx))
	} else {
		m, err := openPlayback(ctx, a.engine, args[0])
		if err != nil {
			return err
		}
		model = m
	}

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runInfo prints what the engine would report for path without playing it.
func runInfo(path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	res, err := probe.New(decode.CanDecode).Open(path)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(res.Metadata(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// runServe drives the engine from MQTT only, until a signal arrives.
func runServe(ctx context.Context, cfg *config.Config, path string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if path != "" {
		if err := checkPath(path); err != nil {
			return err
		}
		if err := a.engine.Load(ctx, path); err != nil {
			return err
		}
	}
	if err := a.startRemote(ctx, true); err != nil {
		return err
	}
	logging.Logger.WithField("topics", cfg.Remote.TopicPrefix).Info("serving")
	<-ctx.Done()
	logging.Logger.Info("shutting down")
	return nil
}
