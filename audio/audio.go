package audio

import "context"

// AudioStreamer defines the interface for capture producers
type AudioStreamer interface {
	// Initialize initializes the audio system
	Initialize() error

	// Terminate terminates the audio system
	Terminate()

	// Open opens the capture stream with configured parameters
	Open() error

	// Close closes the capture stream
	Close() error

	// StartCapture captures interleaved S16LE PCM and sends it to audioData.
	// The method blocks until the context is cancelled. Payloads are dropped
	// when audioData is full so capture never waits on the consumer.
	StartCapture(ctx context.Context, audioData chan<- []byte) error
}
