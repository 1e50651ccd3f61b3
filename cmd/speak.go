package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d1nch8g/audiobridge/config"
	"github.com/d1nch8g/audiobridge/engine"
	"github.com/d1nch8g/audiobridge/ingest"
	"github.com/d1nch8g/audiobridge/render"
	"github.com/d1nch8g/audiobridge/sound"
	"github.com/d1nch8g/audiobridge/tts"
)

func speakCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speak TEXT...",
		Short: "Synthesize text with Yandex SpeechKit and play it",
		Long: "Stream synthesized speech as it arrives. The mono PCM stream is broadcast " +
			"to every output channel.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadSettings(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ecfg, err := engineConfig(cfg)
			if err != nil {
				return err
			}
			// speech arrives as a single mono S16LE stream
			ecfg.InputFormat = ingest.S16LE
			ecfg.Layout = render.Broadcast
			ecfg.StopWhenDrained = true

			client, err := tts.NewYandexTTSClient(tts.YandexConfig{
				ApiKey:   cfg.TTS.ApiKey,
				FolderID: cfg.TTS.FolderID,
				Endpoint: cfg.TTS.Endpoint,
			}, logger)
			if err != nil {
				return err
			}
			defer client.Close()

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

			options := tts.GetDefaultSynthesisOptions()
			options.Voice = cfg.TTS.Voice
			options.SampleRate = cfg.Audio.SampleRate

			return speakSession(ctx, cfg, e, client, strings.Join(args, " "), options, logger)
		},
	}

	cmd.Flags().String("voice", v.GetString("tts.voice"), "SpeechKit voice")
	bindFlags(v, cmd.Flags(), map[string]string{"tts.voice": "voice"})

	return cmd
}

// speakSession plays speech synthesized for text through e. A synthesis
// failure fails the session even after the audio received so far has been
// played out.
func speakSession(ctx context.Context, cfg *config.Config, e *engine.Engine, synth tts.Synthesizer, text string, options tts.SynthesisOptions, logger *slog.Logger) error {
	synthCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	audioData := make(chan []byte, 32)
	synthErr := make(chan error, 1)
	go func() {
		synthErr <- synth.SynthesizeToStreamWithContext(synthCtx, text, options, audioData)
	}()

	if err := runSession(ctx, cfg, e, audioData, logger); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	// the session only drains after the synthesizer closed audioData
	if err := <-synthErr; err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	return nil
}
