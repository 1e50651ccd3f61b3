package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/audiobridge/config"
	"github.com/d1nch8g/audiobridge/engine"
	"github.com/d1nch8g/audiobridge/ingest"
	"github.com/d1nch8g/audiobridge/queue"
	"github.com/d1nch8g/audiobridge/render"
	"github.com/d1nch8g/audiobridge/sound"
	"github.com/d1nch8g/audiobridge/tts"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRenderCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.wav")
	input := ingest.AppendF32LE(nil, []float32{0.5, -0.5, 0.25, 0, 0.5})

	root := RootCommand(config.NewViper())
	root.SetIn(bytes.NewReader(input))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{
		"render", "--out", out,
		"--channels", "1",
		"--block-size", "4",
		"--sample-rate", "8000",
		"--input-format", "f32le",
		"--tail", "1",
	})
	require.NoError(t, root.Execute())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 8000, int(dec.SampleRate))
	assert.Equal(t, 1, int(dec.NumChans))
	assert.Equal(t, []int{
		16383, -16383, 8191, 0, // first block
		16383, 0, 0, 0, // flushed partial frame, zero padded
		0, 0, 0, 0, // tail
	}, buf.Data)
}

func TestRenderCommandBoundedQueue(t *testing.T) {
	// ten mono blocks of two samples, more than any queue below can hold
	samples := make([]float32, 20)
	want := make([]int, len(samples))
	for i := range samples {
		samples[i] = float32(i+1) / 32
		want[i] = int(samples[i] * 32767)
	}

	for _, tc := range []struct {
		name     string
		capacity string
		overflow string
	}{
		{"drop newest", "2", "drop-newest"},
		{"drop oldest", "2", "drop-oldest"},
		{"single slot", "1", "drop-oldest"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.wav")
			root := RootCommand(config.NewViper())
			root.SetIn(bytes.NewReader(ingest.AppendF32LE(nil, samples)))
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)
			root.SetArgs([]string{
				"render", "--out", out,
				"--channels", "1",
				"--block-size", "2",
				"--sample-rate", "8000",
				"--input-format", "f32le",
				"--queue-capacity", tc.capacity,
				"--queue-overflow", tc.overflow,
			})
			require.NoError(t, root.Execute())

			f, err := os.Open(out)
			require.NoError(t, err)
			defer f.Close()
			buf, err := wav.NewDecoder(f).FullPCMBuffer()
			require.NoError(t, err)
			assert.Equal(t, want, buf.Data)
		})
	}
}

func TestRenderCommandRequiresInput(t *testing.T) {
	root := RootCommand(config.NewViper())
	root.SetIn(bytes.NewReader(nil))
	root.SetErr(io.Discard)
	root.SetArgs([]string{"render", "--out", filepath.Join(t.TempDir(), "out.wav")})
	require.ErrorContains(t, root.Execute(), "no input audio")

	root = RootCommand(config.NewViper())
	root.SetErr(io.Discard)
	root.SetArgs([]string{"render"})
	require.ErrorContains(t, root.Execute(), "--out")
}

func TestInvalidSettingsRejected(t *testing.T) {
	root := RootCommand(config.NewViper())
	root.SetIn(bytes.NewReader([]byte{0, 0}))
	root.SetErr(io.Discard)
	root.SetArgs([]string{"render", "--out", filepath.Join(t.TempDir(), "out.wav"), "--layout", "surround"})
	require.Error(t, root.Execute())
}

func TestEngineConfig(t *testing.T) {
	cfg, err := config.LoadConfig(config.NewViper())
	require.NoError(t, err)
	cfg.Audio.InputFormat = "f32le"
	cfg.Audio.Layout = "broadcast"
	cfg.Queue.Capacity = 8
	cfg.Queue.Overflow = "drop-newest"
	cfg.Queue.Length = "exact"

	ecfg, err := engineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ingest.F32LE, ecfg.InputFormat)
	assert.Equal(t, render.Broadcast, ecfg.Layout)
	assert.Equal(t, render.DefaultName, ecfg.Processor)
	assert.Equal(t, queue.Config{Capacity: 8, Overflow: queue.DropNewest, Length: queue.LengthExact}, ecfg.Queue)

	cfg.Queue.Overflow = "block"
	_, err = engineConfig(cfg)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", JSON: true}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	require.Error(t, err)
}

func TestReadChunks(t *testing.T) {
	out := make(chan []byte, 8)
	r := iotest.OneByteReader(bytes.NewReader([]byte{1, 2, 3}))
	require.NoError(t, readChunks(context.Background(), r, 2, out))

	var got []byte
	for b := range out {
		assert.LessOrEqual(t, len(b), 2)
		got = append(got, b...)
	}
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestReadChunksError(t *testing.T) {
	out := make(chan []byte, 1)
	err := readChunks(context.Background(), iotest.ErrReader(io.ErrUnexpectedEOF), 4, out)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, open := <-out
	assert.False(t, open)
}

type scriptedSynth struct {
	payloads [][]byte
	err      error
}

func (s scriptedSynth) SynthesizeToStreamWithContext(ctx context.Context, text string, options tts.SynthesisOptions, audioData chan<- []byte) error {
	defer close(audioData)
	for _, p := range s.payloads {
		select {
		case audioData <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (scriptedSynth) Close() error { return nil }

func newSpeechEngine(t *testing.T) (*engine.Engine, *sound.OfflineDriver) {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "speech.wav"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	driver := sound.NewOfflineDriver(sound.OfflineConfig{
		SampleRate:      8000,
		FramesPerBuffer: 8,
		OutputChannels:  2,
		Realtime:        true,
	}, f, discard)

	e, err := engine.NewEngine(engine.EngineConfig{
		SampleRate:      8000,
		BlockSize:       8,
		Channels:        2,
		InputFormat:     ingest.S16LE,
		Layout:          render.Broadcast,
		StopWhenDrained: true,
	}, nil, driver, discard)
	require.NoError(t, err)
	return e, driver
}

func TestSpeakSession(t *testing.T) {
	speech := ingest.AppendS16LE(nil, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, driver := newSpeechEngine(t)
	synth := scriptedSynth{payloads: [][]byte{speech}}
	require.NoError(t, speakSession(ctx, &config.Config{}, e, synth, "hello", tts.GetDefaultSynthesisOptions(), discard))
	assert.Positive(t, driver.Rendered())
	assert.Equal(t, uint64(1), e.Stats().Frames)
}

func TestSpeakSessionReportsSynthesisFailure(t *testing.T) {
	speech := ingest.AppendS16LE(nil, []float32{0.5, 0.5, 0.5, 0.5})
	failure := errors.New("unauthenticated")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, _ := newSpeechEngine(t)
	synth := scriptedSynth{payloads: [][]byte{speech}, err: failure}
	err := speakSession(ctx, &config.Config{}, e, synth, "hello", tts.GetDefaultSynthesisOptions(), discard)
	require.ErrorIs(t, err, failure)
	assert.ErrorContains(t, err, "synthesis failed")
	// the partial payload was still framed and played
	assert.Equal(t, uint64(1), e.Stats().Frames)
}
