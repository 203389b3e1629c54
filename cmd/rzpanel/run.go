package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/gwillem/rzpanel/pkg/actuator"
	"github.com/gwillem/rzpanel/pkg/keys"
	"github.com/gwillem/rzpanel/pkg/motion"
	"github.com/gwillem/rzpanel/pkg/sched"
	"github.com/gwillem/rzpanel/pkg/stage"
	"github.com/gwillem/rzpanel/pkg/telemetry"
)

const defaultReleaseGap = 600 * time.Millisecond

type RunCommand struct {
	Backend string `long:"backend" choice:"sim" choice:"feetech" description:"Motion controller backend (default from config)"`
	Port    string `short:"p" long:"port" description:"Serial port of the controller (default from config)"`
	NoAPI   bool   `long:"no-api" description:"Do not serve the HTTP API"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if c.Backend != "" {
		cfg.Backend = c.Backend
	}
	if c.Port != "" {
		cfg.Port = c.Port
	}
	if c.NoAPI {
		cfg.API.Enabled = false
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var notes []string
	terminalKeys := cfg.Keyboard.Device == ""
	if terminalKeys && raiseHoldDelay(cfg) {
		note := fmt.Sprintf("Terminal keyboard: hold delay raised to %d ms (release gap %d ms)",
			cfg.Keyboard.HoldMs, releaseGap(cfg).Milliseconds())
		logger.Info(note)
		notes = append(notes, note)
	}

	dev, err := newDevice(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s backend: %v\n", cfg.Backend, err)
		os.Exit(1)
	}

	snap := telemetry.NewSnapshot(cfg.Axes)
	display := telemetry.NewDisplay(snap)
	stream := telemetry.NewStream(snap, logger.Named("stream"))
	sinks := telemetry.Fanout{snap, display, stream}
	var pub *telemetry.Publisher
	if cfg.MQTT.Enabled {
		pub = telemetry.NewPublisher(cfg.MQTT, snap, logger.Named("mqtt"))
		sinks = append(sinks, pub)
	}

	loop := sched.NewLoop()
	e, err := motion.New(motion.Options{
		Device:    dev,
		Scheduler: loop,
		Sink:      sinks,
		Logger:    logger.Named("motion"),
		Config:    *cfg,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := loop.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Auxiliary services log their failure instead of taking the panel down.
	service := func(name string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(name+" stopped", zap.Error(err))
			}
			return nil
		})
	}

	if cfg.API.Enabled {
		srv := telemetry.NewServer(snap, stream, logger.Named("api"))
		service("api", func(ctx context.Context) error {
			return srv.Run(ctx, cfg.API.Addr)
		})
	}
	if pub != nil {
		service("mqtt", pub.Run)
	}
	if !terminalKeys {
		service("keyboard", func(ctx context.Context) error {
			return keys.OpenEvdev(ctx, cfg.Keyboard.Device, func(ev keys.Event) {
				loop.Post(func() {
					if ev.Down {
						e.KeyDown(ev)
					} else {
						e.KeyUp(ev)
					}
				})
			})
		})
	}
	if stage.ConfigExists(configPath()) {
		service("config watch", func(ctx context.Context) error {
			return stage.Watch(ctx, configPath(), func(next *stage.Config) {
				if terminalKeys {
					raiseHoldDelay(next)
				}
				km, err := motion.KeyMapFrom(*next)
				if err != nil {
					logger.Warn("key map reload failed", zap.Error(err))
					return
				}
				loop.Post(func() {
					e.SetKeyMap(km)
					e.SetKeyboardEnabled(next.Keyboard.Enabled)
				})
			}, func(err error) {
				logger.Warn("config reload failed", zap.Error(err))
			})
		})
	}

	// Controller parameters stay as they are; "defaults" sends the configured ones.
	loop.Post(func() { e.Connect(cfg.Port) })

	model := newPanelModel(panelConfig{
		engine:       e,
		loop:         loop,
		display:      display,
		cfg:          cfg,
		terminalKeys: terminalKeys,
		gap:          releaseGap(cfg),
		notes:        notes,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, runErr := p.Run()

	closed := make(chan error, 1)
	if err := loop.Post(func() { closed <- e.Close() }); err == nil {
		select {
		case err := <-closed:
			if err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		case <-time.After(2 * time.Second):
			logger.Warn("close timed out")
		}
	}
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("loop stopped", zap.Error(err))
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error running panel: %v\n", runErr)
		os.Exit(1)
	}
	return nil
}

// newLogger writes to the configured file; the terminal belongs to the TUI.
func newLogger(cfg stage.LogConfig) (*zap.Logger, error) {
	if cfg.File == "" {
		return zap.NewNop(), nil
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Sampling = nil
	zc.OutputPaths = []string{cfg.File}
	zc.ErrorOutputPaths = []string{cfg.File}
	return zc.Build()
}

func newDevice(cfg *stage.Config) (actuator.Actuator, error) {
	switch cfg.Backend {
	case "", "sim":
		ids := make([]int, 0, len(cfg.Axes))
		for _, a := range cfg.Axes {
			ids = append(ids, int(a.ID))
		}
		return actuator.NewSim(nil, ids...), nil
	case "feetech":
		f, err := actuator.NewFeetech(cfg.Axes)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func releaseGap(cfg *stage.Config) time.Duration {
	if cfg.Keyboard.ReleaseGapMs <= 0 {
		return defaultReleaseGap
	}
	return time.Duration(cfg.Keyboard.ReleaseGapMs) * time.Millisecond
}

// raiseHoldDelay keeps the hold delay above the terminal release gap. It
// reports whether the delay was changed.
func raiseHoldDelay(cfg *stage.Config) bool {
	gap := releaseGap(cfg)
	if cfg.Keyboard.HoldDelay() > gap {
		return false
	}
	cfg.Keyboard.HoldMs = int(gap.Milliseconds()) + 100
	return true
}
