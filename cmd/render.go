package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d1nch8g/audiobridge/engine"
	"github.com/d1nch8g/audiobridge/render"
	"github.com/d1nch8g/audiobridge/sound"
)

var errNoInput = errors.New("no input audio")

func renderCommand(v *viper.Viper) *cobra.Command {
	var (
		outPath string
		tail    int
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render raw interleaved PCM from stdin into a WAV file",
		Long: "Frame stdin through the queues and run the render step offline, writing " +
			"every rendered block to a 16-bit WAV file. One block is rendered per framed " +
			"input block, so a bounded queue never overflows. No audio device is used.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return errors.New("--out is required")
			}
			cfg, logger, err := loadSettings(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ecfg, err := engineConfig(cfg)
			if err != nil {
				return err
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}
			defer f.Close()

			stepper := sound.NewStepper()
			driver := sound.NewOfflineDriver(sound.OfflineConfig{
				SampleRate:      cfg.Audio.SampleRate,
				FramesPerBuffer: cfg.Audio.BlockSize,
				OutputChannels:  cfg.Audio.Channels,
				Stepper:         stepper,
			}, f, logger)

			e, err := engine.NewEngine(ecfg, nil, driver, logger)
			if err != nil {
				return err
			}

			streams := cfg.Audio.Channels
			if ecfg.Layout == render.Broadcast {
				streams = 1
			}
			frameBytes := cfg.Audio.BlockSize * streams * ecfg.InputFormat.BytesPerSample()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			feedCtx, cancelFeed := context.WithCancel(ctx)
			defer cancelFeed()

			type fed struct {
				blocks int
				err    error
			}
			result := make(chan fed, 1)
			go func() {
				blocks, err := stepBlocks(feedCtx, e, cmd.InOrStdin(), frameBytes, tail, stepper)
				result <- fed{blocks, err}
			}()

			if err := runSession(ctx, cfg, e, nil, logger); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return nil
			case res := <-result:
				if res.err != nil {
					return res.err
				}
				logger.Info("wrote wav", "path", outPath, "input_blocks", res.blocks, "blocks", driver.Rendered())
			}
			return f.Sync()
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output WAV path")
	cmd.Flags().IntVar(&tail, "tail", 0, "Silent blocks rendered after the input")

	return cmd
}

// stepBlocks writes r into e one frame at a time and runs one render step
// per framed block, then tail more. The stepper is closed on return. It
// returns the number of input blocks.
func stepBlocks(ctx context.Context, e *engine.Engine, r io.Reader, frameBytes, tail int, stepper *sound.Stepper) (int, error) {
	defer stepper.Close()

	steps := func(n int) error {
		for range n {
			if err := stepper.Step(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	buf := make([]byte, frameBytes)
	blocks := 0
	for {
		before := e.Stats().Frames

		n, err := io.ReadFull(r, buf)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return blocks, fmt.Errorf("failed to read input: %w", err)
		}
		if n > 0 {
			if _, err := e.Writer().Write(buf[:n]); err != nil {
				return blocks, fmt.Errorf("failed to frame input: %w", err)
			}
		}
		if eof {
			if err := e.Flush(); err != nil {
				return blocks, fmt.Errorf("failed to frame input: %w", err)
			}
		}

		framed := int(e.Stats().Frames - before)
		blocks += framed
		if err := steps(framed); err != nil {
			return blocks, err
		}
		if eof {
			break
		}
	}

	if blocks == 0 {
		return 0, errNoInput
	}
	return blocks, steps(tail)
}
