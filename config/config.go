package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. AUDIOBRIDGE_AUDIO_BLOCK_SIZE.
const EnvPrefix = "AUDIOBRIDGE"

type Config struct {
	Audio   AudioConfig   `mapstructure:"audio"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	TTS     TTSConfig     `mapstructure:"tts"`
}

type AudioConfig struct {
	SampleRate  int    `mapstructure:"sample_rate"`
	BlockSize   int    `mapstructure:"block_size"`
	Channels    int    `mapstructure:"channels"`
	InputFormat string `mapstructure:"input_format"`
	Layout      string `mapstructure:"layout"`
	Processor   string `mapstructure:"processor"`
}

type QueueConfig struct {
	Capacity int    `mapstructure:"capacity"`
	Overflow string `mapstructure:"overflow"`
	Length   string `mapstructure:"length"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type TTSConfig struct {
	ApiKey   string `mapstructure:"api_key"`
	FolderID string `mapstructure:"folder_id"`
	Voice    string `mapstructure:"voice"`
	Endpoint string `mapstructure:"endpoint"`
}

// SetDefaults registers every key with its default so environment
// variables can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.block_size", 128)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.input_format", "s16le")
	v.SetDefault("audio.layout", "per-channel")
	v.SetDefault("audio.processor", "audio-processor")
	v.SetDefault("queue.capacity", 0)
	v.SetDefault("queue.overflow", "drop-oldest")
	v.SetDefault("queue.length", "pad")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.folder_id", "")
	v.SetDefault("tts.voice", "marina")
	v.SetDefault("tts.endpoint", "")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads the given .env files into the process environment. A
// missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadConfig reads .env, then unmarshals and validates the settings held
// by v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", c.Audio.BlockSize))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must not be negative, got %d", c.Queue.Capacity))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}
