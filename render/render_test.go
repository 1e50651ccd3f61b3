package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/audiobridge/queue"
)

func newBlocks(channels, size int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, size)
		// garbage from a previous step must be overwritten
		for j := range out[i] {
			out[i][j] = 9
		}
	}
	return out
}

func newQueues(t *testing.T, n int) ([]*queue.Queue, []Source) {
	t.Helper()
	queues := make([]*queue.Queue, n)
	sources := make([]Source, n)
	for i := range queues {
		q, err := queue.New(queue.GetDefaultConfig())
		require.NoError(t, err)
		queues[i] = q
		sources[i] = q
	}
	return queues, sources
}

type panicSource struct{}

func (panicSource) Dequeue() (queue.Chunk, bool) {
	panic("source exploded")
}

func TestProcessScenarios(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []queue.Chunk
		steps   int
		want    [][]float32
		padded  uint64
		silent  uint64
		trimmed uint64
	}{
		{
			name:   "single_chunk",
			chunks: []queue.Chunk{{0.1, 0.2, 0.3, 0.4}},
			steps:  1,
			want:   [][]float32{{0.1, 0.2, 0.3, 0.4}},
		},
		{
			name:   "empty_queue",
			steps:  1,
			want:   [][]float32{{0, 0, 0, 0}},
			silent: 1,
		},
		{
			name:   "two_chunks_in_order",
			chunks: []queue.Chunk{{1, 2, 3, 4}, {5, 6, 7, 8}},
			steps:  2,
			want:   [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}},
		},
		{
			name:   "short_chunk_zero_padded",
			chunks: []queue.Chunk{{0.5, 0.25}},
			steps:  1,
			want:   [][]float32{{0.5, 0.25, 0, 0}},
			padded: 1,
		},
		{
			name:    "long_chunk_truncated",
			chunks:  []queue.Chunk{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10}},
			steps:   2,
			want:    [][]float32{{1, 2, 3, 4}, {7, 8, 9, 10}},
			trimmed: 1,
		},
		{
			name:   "underrun_after_data",
			chunks: []queue.Chunk{{1, 1, 1, 1}},
			steps:  3,
			want:   [][]float32{{1, 1, 1, 1}, {0, 0, 0, 0}, {0, 0, 0, 0}},
			silent: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queues, sources := newQueues(t, 1)
			for _, c := range tt.chunks {
				require.NoError(t, queues[0].Enqueue(c))
			}

			p, err := NewProcessor(Config{}, sources...)
			require.NoError(t, err)

			for step := 0; step < tt.steps; step++ {
				out := newBlocks(1, 4)
				require.True(t, p.Process(out))
				assert.Equal(t, tt.want[step], out[0], "step %d", step)
			}

			stats := p.Stats()
			assert.Equal(t, uint64(tt.steps), stats.Steps)
			assert.Equal(t, tt.padded, stats.Padded)
			assert.Equal(t, tt.silent, stats.Silent)
			assert.Equal(t, tt.trimmed, stats.Truncated)
		})
	}
}

func TestProcessBlockLengthUnconditional(t *testing.T) {
	queues, sources := newQueues(t, 2)
	p, err := NewProcessor(Config{}, sources...)
	require.NoError(t, err)

	require.NoError(t, queues[0].Enqueue(queue.Chunk{1}))
	require.NoError(t, queues[1].Enqueue(make(queue.Chunk, 1000)))

	for _, size := range []int{1, 4, 128, 512} {
		out := newBlocks(3, size)
		require.True(t, p.Process(out))
		for ch := range out {
			assert.Len(t, out[ch], size)
			for _, v := range out[ch][min(1, size):] {
				assert.NotEqual(t, float32(9), v)
			}
		}
	}
}

func TestProcessSilenceIsIdempotent(t *testing.T) {
	_, sources := newQueues(t, 2)
	p, err := NewProcessor(Config{}, sources...)
	require.NoError(t, err)

	zeros := make([]float32, 64)
	for i := 0; i < 10; i++ {
		out := newBlocks(2, 64)
		require.True(t, p.Process(out))
		assert.Equal(t, zeros, out[0])
		assert.Equal(t, zeros, out[1])
	}
	assert.Equal(t, uint64(20), p.Stats().Silent)
}

func TestProcessPerChannel(t *testing.T) {
	queues, sources := newQueues(t, 2)
	p, err := NewProcessor(Config{Layout: PerChannel}, sources...)
	require.NoError(t, err)

	require.NoError(t, queues[0].Enqueue(queue.Chunk{1, 1}))
	require.NoError(t, queues[1].Enqueue(queue.Chunk{2, 2}))
	require.NoError(t, queues[1].Enqueue(queue.Chunk{3, 3}))

	out := newBlocks(2, 2)
	p.Process(out)
	assert.Equal(t, []float32{1, 1}, out[0])
	assert.Equal(t, []float32{2, 2}, out[1])

	out = newBlocks(2, 2)
	p.Process(out)
	assert.Equal(t, []float32{0, 0}, out[0])
	assert.Equal(t, []float32{3, 3}, out[1])
}

func TestProcessExtraHostChannelsSilent(t *testing.T) {
	queues, sources := newQueues(t, 1)
	p, err := NewProcessor(Config{}, sources...)
	require.NoError(t, err)

	require.NoError(t, queues[0].Enqueue(queue.Chunk{1, 2}))

	out := newBlocks(3, 2)
	p.Process(out)
	assert.Equal(t, []float32{1, 2}, out[0])
	assert.Equal(t, []float32{0, 0}, out[1])
	assert.Equal(t, []float32{0, 0}, out[2])
}

func TestProcessBroadcast(t *testing.T) {
	queues, sources := newQueues(t, 1)
	p, err := NewProcessor(Config{Layout: Broadcast}, sources...)
	require.NoError(t, err)

	require.NoError(t, queues[0].Enqueue(queue.Chunk{0.1, 0.2, 0.3}))
	require.NoError(t, queues[0].Enqueue(queue.Chunk{0.4, 0.5, 0.6}))

	out := newBlocks(2, 3)
	p.Process(out)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, out[0])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, out[1])
	assert.Equal(t, 1, queues[0].Len())
}

func TestProcessBroadcastWithoutOutputKeepsChunk(t *testing.T) {
	queues, sources := newQueues(t, 1)
	p, err := NewProcessor(Config{Layout: Broadcast}, sources...)
	require.NoError(t, err)

	require.NoError(t, queues[0].Enqueue(queue.Chunk{0.1, 0.2}))
	assert.True(t, p.Process(nil))
	assert.True(t, p.Process([][]float32{}))
	assert.Equal(t, 1, queues[0].Len())

	out := newBlocks(1, 2)
	p.Process(out)
	assert.Equal(t, []float32{0.1, 0.2}, out[0])
}

func TestProcessSharedQueueAcrossChannels(t *testing.T) {
	// one queue handed to both channels: each channel takes its own chunk
	queues, _ := newQueues(t, 1)
	p, err := NewProcessor(Config{}, queues[0], queues[0])
	require.NoError(t, err)

	require.NoError(t, queues[0].Enqueue(queue.Chunk{1}))
	require.NoError(t, queues[0].Enqueue(queue.Chunk{2}))

	out := newBlocks(2, 1)
	p.Process(out)
	assert.Equal(t, []float32{1}, out[0])
	assert.Equal(t, []float32{2}, out[1])
}

func TestProcessRecoversPanic(t *testing.T) {
	queues, _ := newQueues(t, 1)
	require.NoError(t, queues[0].Enqueue(queue.Chunk{1, 1}))

	p, err := NewProcessor(Config{}, queues[0], panicSource{})
	require.NoError(t, err)

	out := newBlocks(2, 2)
	require.NotPanics(t, func() {
		assert.True(t, p.Process(out))
	})
	assert.Equal(t, []float32{0, 0}, out[0])
	assert.Equal(t, []float32{0, 0}, out[1])
	assert.Equal(t, uint64(1), p.Stats().Faults)
}

func TestProcessDoesNotAllocate(t *testing.T) {
	queues, sources := newQueues(t, 2)
	p, err := NewProcessor(Config{}, sources...)
	require.NoError(t, err)

	chunk := make(queue.Chunk, 128)
	out := newBlocks(2, 128)

	allocs := testing.AllocsPerRun(100, func() {
		p.Process(out)
	})
	assert.Zero(t, allocs, "empty queues")

	for i := 0; i < 300; i++ {
		require.NoError(t, queues[0].Enqueue(chunk))
		require.NoError(t, queues[1].Enqueue(chunk))
	}
	allocs = testing.AllocsPerRun(100, func() {
		p.Process(out)
	})
	assert.Zero(t, allocs, "full queues")
}

func TestNewProcessorErrors(t *testing.T) {
	_, err := NewProcessor(Config{})
	require.ErrorIs(t, err, ErrNoSources)

	_, err = NewProcessor(Config{}, nil)
	require.Error(t, err)

	_, sources := newQueues(t, 1)
	_, err = NewProcessor(Config{Layout: Layout(7)}, sources...)
	require.Error(t, err)
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("broadcast")
	require.NoError(t, err)
	assert.Equal(t, Broadcast, l)
	assert.Equal(t, "broadcast", l.String())

	l, err = ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, PerChannel, l)

	_, err = ParseLayout("surround")
	require.Error(t, err)
}

func BenchmarkProcess(b *testing.B) {
	q := queue.MustNew(queue.GetDefaultConfig())
	p, err := NewProcessor(Config{Layout: Broadcast}, q)
	require.NoError(b, err)

	chunk := make(queue.Chunk, 128)
	out := newBlocks(2, 128)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = q.Enqueue(chunk)
		p.Process(out)
	}
}
