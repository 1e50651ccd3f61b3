package sound

import "context"

// Renderer produces one output block per channel per call. It returns false
// when the host should stop invoking it.
type Renderer interface {
	Process(out [][]float32) bool
}

// Player defines the interface for render hosts
type Player interface {
	// Initialize initializes the audio playback system
	Initialize() error

	// Terminate terminates the audio playback system
	Terminate()

	// Open prepares the output with r as its render callback
	Open(r Renderer) error

	// Play drives the renderer until ctx is done or the renderer asks to stop
	Play(ctx context.Context) error

	// Close releases the output
	Close() error
}
