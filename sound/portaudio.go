package sound

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PlayerConfig describes the output stream.
type PlayerConfig struct {
	SampleRate      float64
	FramesPerBuffer int
	OutputChannels  int
}

// PortaudioPlayer hosts a Renderer on a PortAudio output stream. The
// renderer runs on the PortAudio callback thread.
type PortaudioPlayer struct {
	stream   *portaudio.Stream
	config   PlayerConfig
	renderer Renderer
	logger   *slog.Logger

	stopping atomic.Bool
	stop     chan struct{}
}

// Ensure PortaudioPlayer implements Player interface
var _ Player = (*PortaudioPlayer)(nil)

func NewPortaudioPlayer(config PlayerConfig, logger *slog.Logger) *PortaudioPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortaudioPlayer{
		config: config,
		logger: logger.With("component", "portaudio"),
		stop:   make(chan struct{}),
	}
}

func GetDefaultConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:      48000,
		FramesPerBuffer: 128,
		OutputChannels:  2,
	}
}

func (p *PortaudioPlayer) Initialize() error {
	return portaudio.Initialize()
}

// Open opens the default output stream with r as its callback.
func (p *PortaudioPlayer) Open(r Renderer) error {
	if r == nil {
		return errors.New("renderer is nil")
	}
	p.renderer = r

	stream, err := portaudio.OpenDefaultStream(
		0,
		p.config.OutputChannels,
		p.config.SampleRate,
		p.config.FramesPerBuffer,
		p.callback,
	)
	if err != nil {
		return err
	}
	p.stream = stream
	return nil
}

// callback runs on the audio thread: no logging, no blocking.
func (p *PortaudioPlayer) callback(out [][]float32) {
	if p.renderer.Process(out) {
		return
	}
	if p.stopping.CompareAndSwap(false, true) {
		close(p.stop)
	}
}

func (p *PortaudioPlayer) Play(ctx context.Context) error {
	if p.stream == nil {
		return errors.New("Stream not opened")
	}

	if err := p.stream.Start(); err != nil {
		return err
	}
	p.logger.Info("playback started",
		"sample_rate", p.config.SampleRate,
		"frames_per_buffer", p.config.FramesPerBuffer,
		"channels", p.config.OutputChannels)

	defer func() {
		if err := p.stream.Stop(); err != nil {
			p.logger.Warn("failed to stop stream", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		p.logger.Info("renderer requested stop")
		return nil
	}
}

func (p *PortaudioPlayer) Close() error {
	if p.stream != nil {
		return p.stream.Close()
	}
	return nil
}

func (p *PortaudioPlayer) Terminate() {
	portaudio.Terminate()
}
