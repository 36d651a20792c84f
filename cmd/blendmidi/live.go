package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/james-see/blendmidi/pkg/api"
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/codec/devices"
	"github.com/james-see/blendmidi/pkg/config"
	"github.com/james-see/blendmidi/pkg/engine"
	"github.com/james-see/blendmidi/pkg/telemetry"
	"github.com/james-see/blendmidi/pkg/tui"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

func streamConfig(cfg *config.Config) engine.StreamConfig {
	return engine.StreamConfig{
		InPort:         cfg.Backend.InPort,
		OutPort:        cfg.Backend.OutPort,
		SampleRate:     cfg.Backend.SampleRate,
		BlockSize:      cfg.Backend.BlockSize,
		MidiBufferSize: cfg.Backend.MidiBufferSize,
		QueueCapacity:  cfg.Backend.QueueCapacity,
	}
}

// logEvents writes decoded events at debug level
func logEvents(logger *slog.Logger) engine.EventHandler {
	return func(port int, res codec.Result) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		for ch := uint8(1); ch <= codec.NumChannels; ch++ {
			for _, ev := range res.Events.For(ch) {
				logger.Debug("event", "port", port, "channel", ch, "kind", ev.Kind.String(), "value", ev.Value, "time", ev.Time)
			}
		}
	}
}

func fanOut(handlers ...engine.EventHandler) engine.EventHandler {
	return func(port int, res codec.Result) {
		for _, h := range handlers {
			h(port, res)
		}
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	surface, err := devices.Lookup(cfg.Surface)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	logger, flush := newLogger(os.Stderr, cfg, metrics)
	defer flush()
	logger = logger.With("app", cfg.Application)

	defer midi.CloseDriver()
	in, out, err := engine.OpenPorts(cfg.Backend.InPort, cfg.Backend.OutPort)
	if err != nil {
		if errors.Is(err, engine.ErrNoDevice) {
			logger.Error("No MIDI device found")
		}
		return err
	}

	var recorder *engine.Recorder
	if cfg.RecordPath != "" {
		recorder = engine.NewRecorder(cfg.Backend.SampleRate)
	}

	handlers := []engine.EventHandler{logEvents(logger)}
	if withAPI {
		hub := api.NewHub(logger, metrics)
		handlers = append(handlers, hub.Publish)
		svc := &api.Service{Logger: logger, Metrics: metrics, Hub: hub, BlockSize: uint32(cfg.Backend.BlockSize)}
		go func() {
			if err := api.StartServer(cfg.API.Port, svc); err != nil {
				logger.Error("api server stopped", "error", err)
			}
		}()
		logger.Info("api server started", "port", cfg.API.Port)
	}

	proc, err := engine.NewProcessor(engine.Options{
		Surface:   surface,
		BlockSize: uint32(cfg.Backend.BlockSize),
		Logger:    logger,
		Metrics:   metrics,
		OnEvents:  fanOut(handlers...),
		Recorder:  recorder,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("stream starting",
		"surface", surface.ID(),
		"backend", cfg.Backend.Name,
		"sample_rate", cfg.Backend.SampleRate,
		"block_size", cfg.Backend.BlockSize,
	)
	runErr := engine.NewStream(streamConfig(cfg), proc, logger).Run(ctx, in, out)

	if recorder != nil {
		if err := recorder.WriteFile(cfg.RecordPath); err != nil {
			logger.Error("unable to write capture", "path", cfg.RecordPath, "error", err)
		} else {
			logger.Info("capture written", "path", cfg.RecordPath, "frames", recorder.Len())
		}
	}
	return runErr
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	surface, err := devices.Lookup(cfg.Surface)
	if err != nil {
		return err
	}

	// the TUI owns the terminal
	logger, flush := newLogger(io.Discard, cfg, nil)
	defer flush()

	defer midi.CloseDriver()
	in, out, err := engine.OpenPorts(cfg.Backend.InPort, cfg.Backend.OutPort)
	if err != nil {
		if !errors.Is(err, engine.ErrNoDevice) {
			return err
		}
		// captures can still be inspected without a device
		return tui.Run(nil)
	}

	feed := make(chan tea.Msg, 64)
	proc, err := engine.NewProcessor(engine.Options{
		Surface:   surface,
		BlockSize: uint32(cfg.Backend.BlockSize),
		Logger:    logger,
		OnEvents:  tui.Forwarder(feed),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := engine.NewStream(streamConfig(cfg), proc, logger).Run(ctx, in, out)
		select {
		case feed <- tui.HaltedMsg{Err: err}:
		default:
		}
		done <- err
	}()

	if err := tui.Run(feed); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, codec.ErrFatalShutdown) {
		return err
	}
	return nil
}
