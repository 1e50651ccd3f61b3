package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/d1nch8g/audiobridge/config"
	"github.com/d1nch8g/audiobridge/engine"
	"github.com/d1nch8g/audiobridge/ingest"
	"github.com/d1nch8g/audiobridge/metrics"
	"github.com/d1nch8g/audiobridge/queue"
	"github.com/d1nch8g/audiobridge/render"
)

// loadSettings resolves the config and builds the process logger.
func loadSettings(v *viper.Viper, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// engineConfig converts the string settings into a session configuration.
func engineConfig(cfg *config.Config) (engine.EngineConfig, error) {
	format, err := ingest.ParseSampleFormat(cfg.Audio.InputFormat)
	if err != nil {
		return engine.EngineConfig{}, err
	}
	layout, err := render.ParseLayout(cfg.Audio.Layout)
	if err != nil {
		return engine.EngineConfig{}, err
	}
	overflow, err := queue.ParseOverflowPolicy(cfg.Queue.Overflow)
	if err != nil {
		return engine.EngineConfig{}, err
	}
	length, err := queue.ParseLengthPolicy(cfg.Queue.Length)
	if err != nil {
		return engine.EngineConfig{}, err
	}

	return engine.EngineConfig{
		SampleRate:  cfg.Audio.SampleRate,
		BlockSize:   cfg.Audio.BlockSize,
		Channels:    cfg.Audio.Channels,
		InputFormat: format,
		Layout:      layout,
		Processor:   cfg.Audio.Processor,
		Queue: queue.Config{
			Capacity: cfg.Queue.Capacity,
			Overflow: overflow,
			Length:   length,
		},
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runSession runs e until it finishes or ctx is done, serving metrics
// alongside when enabled. Cancellation by ctx is not an error.
func runSession(ctx context.Context, cfg *config.Config, e *engine.Engine, audioData <-chan []byte, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	sessionCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if cfg.Metrics.Enabled {
		reg, err := metrics.NewRegistry(e)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return metrics.Serve(sessionCtx, cfg.Metrics.Listen, reg, logger)
		})
	}

	g.Go(func() error {
		defer cancel()
		return e.Start(sessionCtx, audioData)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	stats := e.Stats()
	logger.Info("session summary",
		"frames", stats.Frames,
		"dropped", stats.Dropped,
		"steps", stats.Render.Steps,
		"silent_blocks", stats.Render.Silent,
		"faults", stats.Render.Faults)
	return err
}

// readChunks reads r in pieces of up to size bytes and sends them to out,
// closing it at EOF.
func readChunks(ctx context.Context, r io.Reader, size int, out chan<- []byte) error {
	defer close(out)
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
}
