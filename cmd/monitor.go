package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d1nch8g/audiobridge/audio"
	"github.com/d1nch8g/audiobridge/engine"
	"github.com/d1nch8g/audiobridge/ingest"
	"github.com/d1nch8g/audiobridge/render"
	"github.com/d1nch8g/audiobridge/sound"
)

func monitorCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Route the default input device to the default output device",
		Long:  "Capture from the microphone and play it back through the queues until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadSettings(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ecfg, err := engineConfig(cfg)
			if err != nil {
				return err
			}
			// capture always delivers interleaved S16LE
			ecfg.InputFormat = ingest.S16LE

			inputChannels := cfg.Audio.Channels
			if ecfg.Layout == render.Broadcast {
				inputChannels = 1
			}

			capture := audio.NewPortaudioStreamer(audio.Config{
				SampleRate:      float64(cfg.Audio.SampleRate),
				FramesPerBuffer: cfg.Audio.BlockSize,
				InputChannels:   inputChannels,
			}, logger)
			if err := capture.Initialize(); err != nil {
				return err
			}
			defer capture.Terminate()
			if err := capture.Open(); err != nil {
				return err
			}
			defer capture.Close()

			player := sound.NewPortaudioPlayer(sound.PlayerConfig{
				SampleRate:      float64(cfg.Audio.SampleRate),
				FramesPerBuffer: cfg.Audio.BlockSize,
				OutputChannels:  cfg.Audio.Channels,
			}, logger)

			e, err := engine.NewEngine(ecfg, nil, player, logger)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			audioData := make(chan []byte, 16)
			go func() {
				defer close(audioData)
				err := capture.StartCapture(ctx, audioData)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("capture failed", "error", err)
				}
			}()

			err = runSession(ctx, cfg, e, audioData, logger)
			logger.Info("capture finished", "dropped_payloads", capture.Dropped())
			return err
		},
	}
}
