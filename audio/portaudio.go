package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

type Config struct {
	SampleRate      float64
	FramesPerBuffer int
	InputChannels   int
}

type PortaudioStreamer struct {
	stream      *portaudio.Stream
	audioBuffer []int16
	config      Config
	logger      *slog.Logger

	dropped atomic.Uint64
}

// Ensure PortaudioStreamer implements AudioStreamer interface
var _ AudioStreamer = (*PortaudioStreamer)(nil)

func NewPortaudioStreamer(config Config, logger *slog.Logger) *PortaudioStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortaudioStreamer{
		config:      config,
		audioBuffer: make([]int16, config.FramesPerBuffer*config.InputChannels),
		logger:      logger.With("component", "capture"),
	}
}

func (a *PortaudioStreamer) Initialize() error {
	return portaudio.Initialize()
}

func (a *PortaudioStreamer) Terminate() {
	portaudio.Terminate()
}

func (a *PortaudioStreamer) Open() error {
	stream, err := portaudio.OpenDefaultStream(
		a.config.InputChannels,
		0,
		a.config.SampleRate,
		a.config.FramesPerBuffer,
		a.audioBuffer,
	)
	if err != nil {
		return err
	}
	a.stream = stream
	return nil
}

func (a *PortaudioStreamer) Close() error {
	if a.stream != nil {
		return a.stream.Close()
	}
	return nil
}

func (a *PortaudioStreamer) StartCapture(ctx context.Context, audioData chan<- []byte) error {
	if a.stream == nil {
		return errors.New("Stream not opened")
	}

	if err := a.stream.Start(); err != nil {
		return err
	}
	defer a.stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := a.stream.Read(); err != nil {
				// input overflow is reported here and is recoverable
				a.logger.Warn("failed to read audio", "error", err)
				continue
			}

			select {
			case audioData <- EncodeS16LE(a.audioBuffer):
			case <-ctx.Done():
				return ctx.Err()
			default:
				if a.dropped.Add(1)%64 == 1 {
					a.logger.Warn("capture channel full, dropping audio", "dropped", a.dropped.Load())
				}
			}
		}
	}
}

// Dropped returns the number of captured buffers dropped because the
// consumer was behind.
func (a *PortaudioStreamer) Dropped() uint64 {
	return a.dropped.Load()
}

// EncodeS16LE copies interleaved 16-bit samples into a new little-endian
// byte slice.
func EncodeS16LE(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func GetDefaultConfig() Config {
	return Config{
		SampleRate:      48000,
		FramesPerBuffer: 128,
		InputChannels:   1,
	}
}
