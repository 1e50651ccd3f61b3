package sound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// OfflineConfig describes an offline render run.
type OfflineConfig struct {
	SampleRate      int
	FramesPerBuffer int
	OutputChannels  int
	// Blocks is the number of render steps to run. Zero runs until the
	// context is done.
	Blocks int
	// Realtime paces render steps at the block period instead of running
	// them back to back.
	Realtime bool
	// Stepper, when set, releases render steps one at a time and takes
	// precedence over Realtime. Play returns once it is closed.
	Stepper *Stepper
}

// Stepper lets a producer drive an OfflineDriver in lockstep: each Step
// runs exactly one render step and returns once its block is written.
type Stepper struct {
	step chan struct{}
	done chan struct{}
}

func NewStepper() *Stepper {
	return &Stepper{
		step: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Step releases one render step and waits for it to complete.
func (s *Stepper) Step(ctx context.Context) error {
	select {
	case s.step <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the driver's Play. It must be called once, after the last Step.
func (s *Stepper) Close() {
	close(s.step)
}

// OfflineDriver hosts a Renderer without an audio device and records its
// output as 16-bit PCM WAV.
type OfflineDriver struct {
	config   OfflineConfig
	out      io.WriteSeeker
	renderer Renderer
	logger   *slog.Logger

	enc      *wav.Encoder
	blocks   [][]float32
	buf      *audio.IntBuffer
	rendered int
}

// Ensure OfflineDriver implements Player interface
var _ Player = (*OfflineDriver)(nil)

func NewOfflineDriver(config OfflineConfig, out io.WriteSeeker, logger *slog.Logger) *OfflineDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &OfflineDriver{
		config: config,
		out:    out,
		logger: logger.With("component", "offline"),
	}
}

func (d *OfflineDriver) Initialize() error {
	if d.config.SampleRate <= 0 || d.config.FramesPerBuffer <= 0 || d.config.OutputChannels <= 0 {
		return fmt.Errorf("invalid offline config %+v", d.config)
	}
	if d.out == nil {
		return errors.New("output is nil")
	}
	return nil
}

func (d *OfflineDriver) Terminate() {}

func (d *OfflineDriver) Open(r Renderer) error {
	if r == nil {
		return errors.New("renderer is nil")
	}
	d.renderer = r

	d.blocks = make([][]float32, d.config.OutputChannels)
	for i := range d.blocks {
		d.blocks[i] = make([]float32, d.config.FramesPerBuffer)
	}
	d.buf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: d.config.OutputChannels,
			SampleRate:  d.config.SampleRate,
		},
		Data:           make([]int, d.config.FramesPerBuffer*d.config.OutputChannels),
		SourceBitDepth: 16,
	}
	// 1 is the WAV PCM format tag
	d.enc = wav.NewEncoder(d.out, d.config.SampleRate, 16, d.config.OutputChannels, 1)
	return nil
}

// Play runs the configured number of render steps.
func (d *OfflineDriver) Play(ctx context.Context) error {
	if d.enc == nil {
		return errors.New("driver not opened")
	}

	var tick <-chan time.Time
	if d.config.Realtime {
		period := time.Duration(d.config.FramesPerBuffer) * time.Second / time.Duration(d.config.SampleRate)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	stepper := d.config.Stepper
	for d.config.Blocks == 0 || d.rendered < d.config.Blocks {
		if stepper != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-stepper.step:
				if !ok {
					d.logger.Debug("offline render finished", "blocks", d.rendered)
					return nil
				}
			}
		} else if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		keep := d.renderer.Process(d.blocks)
		if err := d.writeBlock(); err != nil {
			return err
		}
		d.rendered++
		if stepper != nil {
			select {
			case stepper.done <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !keep {
			d.logger.Info("renderer requested stop", "blocks", d.rendered)
			return nil
		}
	}

	d.logger.Debug("offline render finished", "blocks", d.rendered)
	return nil
}

// Rendered returns the number of blocks written.
func (d *OfflineDriver) Rendered() int {
	return d.rendered
}

func (d *OfflineDriver) writeBlock() error {
	channels := len(d.blocks)
	for ch, block := range d.blocks {
		for i, s := range block {
			d.buf.Data[i*channels+ch] = toInt16(s)
		}
	}
	if err := d.enc.Write(d.buf); err != nil {
		return fmt.Errorf("failed to write wav block: %w", err)
	}
	return nil
}

// Close finalizes the WAV header.
func (d *OfflineDriver) Close() error {
	if d.enc == nil {
		return nil
	}
	if err := d.enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

func toInt16(s float32) int {
	v := int(s * 32767)
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return v
}
