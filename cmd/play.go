package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d1nch8g/audiobridge/engine"
	"github.com/d1nch8g/audiobridge/sound"
)

func playCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play raw interleaved PCM from stdin",
		Long: "Read raw interleaved PCM from stdin and play it on the default output device. " +
			"Playback ends once stdin is exhausted and every queue has been played out.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadSettings(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ecfg, err := engineConfig(cfg)
			if err != nil {
				return err
			}
			ecfg.StopWhenDrained = true

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

			frameBytes := cfg.Audio.BlockSize * cfg.Audio.Channels * ecfg.InputFormat.BytesPerSample()
			audioData := make(chan []byte, 16)
			go func() {
				if err := readChunks(ctx, cmd.InOrStdin(), frameBytes, audioData); err != nil {
					logger.Warn("stdin reader stopped", "error", err)
				}
			}()

			return runSession(ctx, cfg, e, audioData, logger)
		},
	}
}
