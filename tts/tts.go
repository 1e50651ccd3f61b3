package tts

import "context"

// Synthesizer defines the interface for speech producers. Implementations
// send raw mono S16LE PCM payloads on audioData and close it when done.
type Synthesizer interface {
	SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error
	Close() error
}

// SynthesisOptions represents the configuration for speech synthesis
type SynthesisOptions struct {
	Voice  string
	Speed  float64
	Volume float64
	Model  string
	// SampleRate of the produced PCM, which must match the session rate
	// since nothing downstream resamples.
	SampleRate int
}
