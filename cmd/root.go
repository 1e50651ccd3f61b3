package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/d1nch8g/audiobridge/config"
)

// RootCommand creates the root command and its sub-commands. Settings are
// resolved from v, which flags are bound to.
func RootCommand(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "audiobridge",
		Short:         "Stream producer audio into a real-time output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, v)

	rootCmd.AddCommand(
		playCommand(v),
		speakCommand(v),
		monitorCommand(v),
		renderCommand(v),
	)

	return rootCmd
}

// Execute runs the CLI with settings from the environment, .env and flags.
func Execute() error {
	return RootCommand(config.NewViper()).Execute()
}

// setupFlags defines flags shared by every sub-command.
func setupFlags(rootCmd *cobra.Command, v *viper.Viper) {
	flags := rootCmd.PersistentFlags()
	flags.Int("sample-rate", v.GetInt("audio.sample_rate"), "Session sample rate in Hz")
	flags.Int("block-size", v.GetInt("audio.block_size"), "Frames per render block")
	flags.Int("channels", v.GetInt("audio.channels"), "Output channel count")
	flags.String("input-format", v.GetString("audio.input_format"), "Producer PCM encoding (s16le, f32le)")
	flags.String("layout", v.GetString("audio.layout"), "Queue layout (per-channel, broadcast)")
	flags.String("processor", v.GetString("audio.processor"), "Registered render processor name")
	flags.Int("queue-capacity", v.GetInt("queue.capacity"), "Chunks per queue, 0 for unbounded")
	flags.String("queue-overflow", v.GetString("queue.overflow"), "Overflow policy for bounded queues (drop-oldest, drop-newest)")
	flags.String("queue-length", v.GetString("queue.length"), "Chunk length policy (pad, exact)")
	flags.Bool("metrics", v.GetBool("metrics.enabled"), "Expose Prometheus metrics")
	flags.String("listen", v.GetString("metrics.listen"), "Listen address of the metrics endpoint")
	flags.String("log-level", v.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.Bool("log-json", v.GetBool("log.json"), "Log in JSON")

	bindFlags(v, flags, map[string]string{
		"audio.sample_rate":  "sample-rate",
		"audio.block_size":   "block-size",
		"audio.channels":     "channels",
		"audio.input_format": "input-format",
		"audio.layout":       "layout",
		"audio.processor":    "processor",
		"queue.capacity":     "queue-capacity",
		"queue.overflow":     "queue-overflow",
		"queue.length":       "queue-length",
		"metrics.enabled":    "metrics",
		"metrics.listen":     "listen",
		"log.level":          "log-level",
		"log.json":           "log-json",
	})
}

// bindFlags binds config keys to flags so a flag set on the command line
// takes precedence over the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("error binding flag %s: %v", name, err))
		}
	}
}
