package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/d1nch8g/audiobridge/ingest"
	"github.com/d1nch8g/audiobridge/queue"
	"github.com/d1nch8g/audiobridge/render"
	"github.com/d1nch8g/audiobridge/sound"
)

// EngineConfig holds the configuration for an audio session
type EngineConfig struct {
	SampleRate  int
	BlockSize   int
	Channels    int
	InputFormat ingest.SampleFormat
	Layout      render.Layout
	// Processor is the registry name of the render processor
	Processor string
	Queue     queue.Config
	// StopWhenDrained ends Start once the producer channel is closed and
	// every queue has been played out
	StopWhenDrained bool
}

// Stats is a snapshot of the session counters
type Stats struct {
	Queues []queue.Stats
	Render render.Stats
	Frames uint64
	// Dropped counts chunks the queues refused
	Dropped uint64
}

// Engine is one audio session: it owns the chunk queues, the render
// processor and the framer feeding them, and drives a player.
type Engine struct {
	config    EngineConfig
	queues    []*queue.Queue
	processor *render.Processor
	framer    *ingest.Framer
	player    sound.Player
	logger    *slog.Logger

	isRunning    bool
	runningMutex sync.RWMutex
}

// NewEngine creates a new session. In the Broadcast layout a single queue
// feeds every output channel; otherwise there is one queue per channel.
func NewEngine(config EngineConfig, registry *render.Registry, player sound.Player, logger *slog.Logger) (*Engine, error) {
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.BlockSize == 0 {
		config.BlockSize = 128
	}
	if config.Channels == 0 {
		config.Channels = 2
	}
	if config.Processor == "" {
		config.Processor = render.DefaultName
	}
	config.Queue.BlockSize = config.BlockSize

	if player == nil {
		return nil, errors.New("player is required")
	}
	if registry == nil {
		registry = render.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}

	streams := config.Channels
	if config.Layout == render.Broadcast {
		streams = 1
	}

	queues := make([]*queue.Queue, streams)
	sources := make([]render.Source, streams)
	sinks := make([]ingest.Sink, streams)
	for i := range queues {
		q, err := queue.New(config.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to create queue: %w", err)
		}
		queues[i], sources[i], sinks[i] = q, q, q
	}

	processor, err := registry.New(config.Processor, render.Config{Layout: config.Layout}, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}

	framer, err := ingest.NewFramer(ingest.FramerConfig{
		BlockSize:    config.BlockSize,
		Channels:     streams,
		Format:       config.InputFormat,
		BufferFrames: 8,
	}, logger, sinks...)
	if err != nil {
		return nil, fmt.Errorf("failed to create framer: %w", err)
	}

	return &Engine{
		config:    config,
		queues:    queues,
		processor: processor,
		framer:    framer,
		player:    player,
		logger:    logger.With("component", "engine"),
	}, nil
}

// Start runs the session until ctx is done. Raw PCM received on audioData
// is framed and enqueued while the player drives the processor.
func (e *Engine) Start(ctx context.Context, audioData <-chan []byte) error {
	e.runningMutex.Lock()
	if e.isRunning {
		e.runningMutex.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.isRunning = true
	e.runningMutex.Unlock()

	defer func() {
		e.runningMutex.Lock()
		e.isRunning = false
		e.runningMutex.Unlock()
	}()

	if err := e.player.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize player: %w", err)
	}
	defer e.player.Terminate()

	if err := e.player.Open(e.processor); err != nil {
		return fmt.Errorf("failed to open player: %w", err)
	}
	defer func() {
		if err := e.player.Close(); err != nil {
			e.logger.Warn("failed to close player", "error", err)
		}
	}()

	playCtx, stopPlay := context.WithCancel(ctx)
	defer stopPlay()

	var wg sync.WaitGroup
	if audioData != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.framer.Feed(playCtx, audioData)
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("producer feed stopped", "error", err)
			}
			if err == nil && e.config.StopWhenDrained {
				e.waitDrained(playCtx)
				stopPlay()
			}
		}()
	}

	e.logger.Info("session started",
		"channels", e.config.Channels,
		"queues", len(e.queues),
		"block_size", e.config.BlockSize,
		"sample_rate", e.config.SampleRate,
		"layout", e.config.Layout.String())

	err := e.player.Play(playCtx)
	stopPlay()
	wg.Wait()

	if ctx.Err() != nil {
		e.logger.Info("session stopping due to context cancellation")
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("playback failed: %w", err)
	}
	e.logger.Info("session finished", "frames", e.framer.Frames())
	return nil
}

// waitDrained blocks until every queue is empty and one more block has
// been rendered.
func (e *Engine) waitDrained(ctx context.Context) {
	period := time.Duration(e.config.BlockSize) * time.Second / time.Duration(e.config.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Drained() {
				select {
				case <-ctx.Done():
				case <-time.After(period):
				}
				return
			}
		}
	}
}

// Enqueue hands a decoded chunk directly to the queue of the given stream.
func (e *Engine) Enqueue(stream int, c queue.Chunk) error {
	if stream < 0 || stream >= len(e.queues) {
		return fmt.Errorf("stream %d out of range [0, %d)", stream, len(e.queues))
	}
	return e.queues[stream].Enqueue(c)
}

// Writer returns the framer accepting raw interleaved PCM.
func (e *Engine) Writer() io.Writer {
	return e.framer
}

// Flush enqueues a trailing partial frame written through Writer.
func (e *Engine) Flush() error {
	return e.framer.Flush()
}

// Processor returns the session's render processor
func (e *Engine) Processor() *render.Processor {
	return e.processor
}

// Drained reports whether every queue is empty.
func (e *Engine) Drained() bool {
	for _, q := range e.queues {
		if q.Len() > 0 {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of all session counters
func (e *Engine) Stats() Stats {
	stats := Stats{
		Queues:  make([]queue.Stats, len(e.queues)),
		Render:  e.processor.Stats(),
		Frames:  e.framer.Frames(),
		Dropped: e.framer.Dropped(),
	}
	for i, q := range e.queues {
		stats.Queues[i] = q.Stats()
	}
	return stats
}

// Config returns the effective session configuration
func (e *Engine) Config() EngineConfig {
	return e.config
}

// IsRunning returns whether the session is currently running
func (e *Engine) IsRunning() bool {
	e.runningMutex.RLock()
	defer e.runningMutex.RUnlock()
	return e.isRunning
}
