package queue

import (
	"errors"
	"fmt"
	"strings"
)

// OverflowPolicy decides what happens when a bounded queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the head chunk to make room for the new one.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming chunk and reports ErrQueueFull.
	DropNewest
)

// LengthPolicy decides which chunk lengths Enqueue accepts.
type LengthPolicy int

const (
	// LengthPad accepts any non-empty chunk. The render step zero-pads short
	// chunks and truncates long ones.
	LengthPad LengthPolicy = iota
	// LengthExact rejects chunks whose length differs from BlockSize.
	LengthExact
)

// Config holds the queue settings.
type Config struct {
	// Capacity is the maximum number of queued chunks. Zero means unbounded.
	Capacity  int
	Overflow  OverflowPolicy
	BlockSize int
	Length    LengthPolicy
}

// GetDefaultConfig returns an unbounded queue that accepts any chunk length.
func GetDefaultConfig() Config {
	return Config{
		Capacity: 0,
		Overflow: DropOldest,
		Length:   LengthPad,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("invalid capacity %d", c.Capacity)
	}
	if c.BlockSize < 0 {
		return fmt.Errorf("invalid block size %d", c.BlockSize)
	}
	if c.Length == LengthExact && c.BlockSize == 0 {
		return errors.New("exact length policy requires a block size")
	}
	switch c.Overflow {
	case DropOldest, DropNewest:
	default:
		return fmt.Errorf("unknown overflow policy %d", c.Overflow)
	}
	switch c.Length {
	case LengthPad, LengthExact:
	default:
		return fmt.Errorf("unknown length policy %d", c.Length)
	}
	return nil
}

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// ParseOverflowPolicy parses "drop-oldest" or "drop-newest".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-oldest":
		return DropOldest, nil
	case "drop-newest":
		return DropNewest, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

func (p LengthPolicy) String() string {
	switch p {
	case LengthPad:
		return "pad"
	case LengthExact:
		return "exact"
	}
	return fmt.Sprintf("LengthPolicy(%d)", int(p))
}

// ParseLengthPolicy parses "pad" or "exact".
func ParseLengthPolicy(s string) (LengthPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pad":
		return LengthPad, nil
	case "exact":
		return LengthExact, nil
	}
	return 0, fmt.Errorf("unknown length policy %q", s)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued  uint64
	Dequeued  uint64
	Dropped   uint64
	Rejected  uint64
	Sanitized uint64
	// Underruns counts Dequeue calls that found the queue empty.
	Underruns uint64
	Length    int
	HighWater int
}
