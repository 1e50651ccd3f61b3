// Package ingest turns raw interleaved PCM coming from a producer into
// block-length, per-channel chunks and hands them to chunk queues.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/d1nch8g/audiobridge/queue"
)

// Sink receives framed chunks for one channel.
type Sink interface {
	Enqueue(c queue.Chunk) error
}

// FramerConfig holds the framing parameters.
type FramerConfig struct {
	BlockSize int
	Channels  int
	Format    SampleFormat
	// BufferFrames is the reassembly buffer size in frames. Values below 2
	// are raised to 2.
	BufferFrames int
}

// GetDefaultFramerConfig returns 128-sample stereo S16LE framing.
func GetDefaultFramerConfig() FramerConfig {
	return FramerConfig{
		BlockSize:    128,
		Channels:     2,
		Format:       S16LE,
		BufferFrames: 8,
	}
}

// Framer is an io.Writer that slices interleaved PCM into one chunk per
// channel per block and enqueues each chunk on the matching sink.
type Framer struct {
	config     FramerConfig
	frameBytes int
	sinks      []Sink
	logger     *slog.Logger

	mu    sync.Mutex
	rb    *ringbuffer.RingBuffer
	frame []byte

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// NewFramer creates a framer feeding one sink per channel.
func NewFramer(config FramerConfig, logger *slog.Logger, sinks ...Sink) (*Framer, error) {
	if config.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", config.BlockSize)
	}
	if config.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", config.Channels)
	}
	if len(sinks) != config.Channels {
		return nil, fmt.Errorf("got %d sinks for %d channels", len(sinks), config.Channels)
	}
	if config.Format != S16LE && config.Format != F32LE {
		return nil, fmt.Errorf("unknown sample format %d", config.Format)
	}
	if config.BufferFrames < 2 {
		config.BufferFrames = 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	frameBytes := config.BlockSize * config.Channels * config.Format.BytesPerSample()

	return &Framer{
		config:     config,
		frameBytes: frameBytes,
		sinks:      sinks,
		logger:     logger.With("component", "framer"),
		rb:         ringbuffer.New(frameBytes * config.BufferFrames),
		frame:      make([]byte, frameBytes),
	}, nil
}

// Write buffers p and enqueues every complete frame. All of p is consumed;
// the returned error is the first enqueue failure, if any.
func (f *Framer) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	written := 0
	for written < len(p) {
		n := min(len(p)-written, f.rb.Free())
		m, err := f.rb.Write(p[written : written+n])
		written += m
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			return written, fmt.Errorf("failed to buffer audio: %w", err)
		}
		if m == 0 && f.rb.Length() < f.frameBytes {
			return written, errors.New("reassembly buffer stalled")
		}
		if err := f.drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return written, firstErr
}

// Flush zero-pads a trailing partial frame to full block length and
// enqueues it.
func (f *Framer) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.rb.Length()
	if n == 0 {
		return nil
	}
	clear(f.frame)
	if _, err := io.ReadFull(f.rb, f.frame[:n]); err != nil {
		return fmt.Errorf("failed to read partial frame: %w", err)
	}
	return f.emit()
}

// Feed writes every payload received on audioData until the channel is
// closed or ctx is done. A closed channel flushes the trailing partial frame.
func (f *Framer) Feed(ctx context.Context, audioData <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-audioData:
			if !ok {
				return f.Flush()
			}
			if _, err := f.Write(payload); err != nil {
				if errors.Is(err, queue.ErrQueueFull) {
					f.logger.Debug("queue full, dropping audio", "error", err)
					continue
				}
				f.logger.Warn("failed to enqueue audio", "error", err)
			}
		}
	}
}

// Frames returns the number of frames emitted.
func (f *Framer) Frames() uint64 {
	return f.frames.Load()
}

// Dropped returns the number of chunks the sinks refused.
func (f *Framer) Dropped() uint64 {
	return f.dropped.Load()
}

// drain emits every complete frame. Called with f.mu held.
func (f *Framer) drain() error {
	var firstErr error
	for f.rb.Length() >= f.frameBytes {
		if _, err := io.ReadFull(f.rb, f.frame); err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}
		if err := f.emit(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// emit deinterleaves f.frame and enqueues one chunk per channel.
func (f *Framer) emit() error {
	channels := f.config.Channels
	bps := f.config.Format.BytesPerSample()

	var firstErr error
	for ch, sink := range f.sinks {
		chunk := make(queue.Chunk, f.config.BlockSize)
		for i := range chunk {
			off := (i*channels + ch) * bps
			chunk[i] = f.config.Format.decode(f.frame[off : off+bps])
		}
		if err := sink.Enqueue(chunk); err != nil {
			f.dropped.Add(1)
			if firstErr == nil {
				firstErr = fmt.Errorf("channel %d: %w", ch, err)
			}
		}
	}
	f.frames.Add(1)
	return firstErr
}
