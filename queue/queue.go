// Package queue implements the chunk FIFO shared between an audio producer
// and the real-time render callback.
//
// Producers may call Enqueue from any number of goroutines. Dequeue is meant
// for a single render goroutine; it never blocks beyond a constant-time
// critical section and never allocates.
package queue

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Chunk is one channel's worth of audio samples.
type Chunk []float32

var (
	// ErrEmptyChunk is returned when a zero-length chunk is enqueued.
	ErrEmptyChunk = errors.New("empty chunk")
	// ErrChunkLength is returned under LengthExact when a chunk does not
	// match the configured block size.
	ErrChunkLength = errors.New("chunk length does not match block size")
	// ErrQueueFull is returned under DropNewest when the queue is at capacity.
	ErrQueueFull = errors.New("queue is full")
)

const minRing = 16

// Queue is a FIFO of audio chunks.
type Queue struct {
	config Config

	mu    sync.Mutex
	ring  []Chunk
	head  int
	count int

	enqueued  atomic.Uint64
	dequeued  atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
	sanitized atomic.Uint64
	underruns atomic.Uint64
	length    atomic.Int64
	highWater atomic.Int64
}

// New creates a queue for the given configuration.
func New(config Config) (*Queue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	size := minRing
	if config.Capacity > 0 {
		size = config.Capacity
	}

	return &Queue{
		config: config,
		ring:   make([]Chunk, size),
	}, nil
}

// MustNew is like New but panics on an invalid configuration.
func MustNew(config Config) *Queue {
	q, err := New(config)
	if err != nil {
		panic(fmt.Sprintf("queue: %v", err))
	}
	return q
}

// Enqueue appends a chunk to the tail. The queue takes ownership of c:
// non-finite samples are replaced with zero in place.
func (q *Queue) Enqueue(c Chunk) error {
	if len(c) == 0 {
		q.rejected.Add(1)
		return ErrEmptyChunk
	}
	if q.config.Length == LengthExact && len(c) != q.config.BlockSize {
		q.rejected.Add(1)
		return fmt.Errorf("%w: got %d samples, want %d", ErrChunkLength, len(c), q.config.BlockSize)
	}
	if n := sanitize(c); n > 0 {
		q.sanitized.Add(uint64(n))
	}

	q.mu.Lock()
	if q.config.Capacity > 0 && q.count == q.config.Capacity {
		if q.config.Overflow == DropNewest {
			q.mu.Unlock()
			q.dropped.Add(1)
			return ErrQueueFull
		}
		// drop oldest
		q.ring[q.head] = nil
		q.head = (q.head + 1) % len(q.ring)
		q.count--
		q.dropped.Add(1)
	}
	if q.count == len(q.ring) {
		q.grow()
	}
	q.ring[(q.head+q.count)%len(q.ring)] = c
	q.count++
	n := int64(q.count)
	// stored under the lock so the gauge follows the ring's order of updates
	q.length.Store(n)
	q.mu.Unlock()

	q.enqueued.Add(1)
	for {
		hw := q.highWater.Load()
		if n <= hw || q.highWater.CompareAndSwap(hw, n) {
			break
		}
	}
	return nil
}

// Dequeue removes and returns the head chunk. The boolean is false when the
// queue holds no chunks.
func (q *Queue) Dequeue() (Chunk, bool) {
	q.mu.Lock()
	if q.count == 0 {
		q.mu.Unlock()
		q.underruns.Add(1)
		return nil, false
	}
	c := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.length.Store(int64(q.count))
	q.mu.Unlock()

	q.dequeued.Add(1)
	return c, true
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the configured capacity, 0 meaning unbounded.
func (q *Queue) Cap() int {
	return q.config.Capacity
}

// Config returns the queue configuration.
func (q *Queue) Config() Config {
	return q.config
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Dequeued:  q.dequeued.Load(),
		Dropped:   q.dropped.Load(),
		Rejected:  q.rejected.Load(),
		Sanitized: q.sanitized.Load(),
		Underruns: q.underruns.Load(),
		Length:    int(q.length.Load()),
		HighWater: int(q.highWater.Load()),
	}
}

// grow doubles the ring of an unbounded queue. Called with q.mu held.
func (q *Queue) grow() {
	ring := make([]Chunk, len(q.ring)*2)
	n := copy(ring, q.ring[q.head:])
	copy(ring[n:], q.ring[:q.head])
	q.ring = ring
	q.head = 0
}

func sanitize(c Chunk) int {
	n := 0
	for i, v := range c {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			c[i] = 0
			n++
		}
	}
	return n
}
