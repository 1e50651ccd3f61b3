package tts

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	tts "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
)

const (
	YandexTTSEndpoint = "tts.api.cloud.yandex.net:443"
)

type YandexConfig struct {
	ApiKey   string
	FolderID string
	Endpoint string
}

type YandexTTSClient struct {
	client   tts.SynthesizerClient
	conn     *grpc.ClientConn
	apiKey   string
	folderID string
	logger   *slog.Logger
}

// Ensure YandexTTSClient implements Synthesizer interface
var _ Synthesizer = (*YandexTTSClient)(nil)

func GetDefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{
		Voice:      "marina",
		Speed:      1.0,
		Volume:     0.0,
		Model:      "general",
		SampleRate: 48000,
	}
}

func NewYandexTTSClient(config YandexConfig, logger *slog.Logger) (*YandexTTSClient, error) {
	if config.ApiKey == "" || config.FolderID == "" {
		return nil, errors.New("api key and folder id are required")
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = YandexTTSEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}

	creds := credentials.NewTLS(&tls.Config{})

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	return &YandexTTSClient{
		client:   tts.NewSynthesizerClient(conn),
		conn:     conn,
		apiKey:   config.ApiKey,
		folderID: config.FolderID,
		logger:   logger.With("component", "tts"),
	}, nil
}

// SynthesizeToStreamWithContext streams raw PCM for text onto audioData and
// closes the channel when synthesis ends.
func (c *YandexTTSClient) SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error {
	defer close(audioData)

	ctx = metadata.AppendToOutgoingContext(ctx,
		"authorization", "Api-Key "+c.apiKey,
		"x-folder-id", c.folderID,
	)

	stream, err := c.client.UtteranceSynthesis(ctx, buildRequest(text, options))
	if err != nil {
		return fmt.Errorf("failed to start synthesis: %w", err)
	}

	chunks := 0
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to receive audio data: %w", err)
		}

		data := resp.GetAudioChunk().GetData()
		if len(data) == 0 {
			continue
		}
		select {
		case audioData <- data:
			chunks++
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.logger.Debug("synthesis finished", "chunks", chunks, "chars", len(text))
	return nil
}

func buildRequest(text string, options SynthesisOptions) *tts.UtteranceSynthesisRequest {
	req := &tts.UtteranceSynthesisRequest{}
	req.SetModel(options.Model)
	req.SetText(text)

	voiceHint := &tts.Hints{}
	voiceHint.SetVoice(options.Voice)

	speedHint := &tts.Hints{}
	speedHint.SetSpeed(options.Speed)

	volumeHint := &tts.Hints{}
	volumeHint.SetVolume(options.Volume)

	req.SetHints([]*tts.Hints{voiceHint, speedHint, volumeHint})

	// raw PCM so nothing downstream has to decode a container
	rawAudio := &tts.RawAudio{}
	rawAudio.SetAudioEncoding(tts.RawAudio_LINEAR16_PCM)
	rawAudio.SetSampleRateHertz(int64(options.SampleRate))

	audioSpec := &tts.AudioFormatOptions{}
	audioSpec.SetRawAudio(rawAudio)
	req.SetOutputAudioSpec(audioSpec)

	req.SetLoudnessNormalizationType(tts.UtteranceSynthesisRequest_LUFS)

	return req
}

func (c *YandexTTSClient) Close() error {
	return c.conn.Close()
}
