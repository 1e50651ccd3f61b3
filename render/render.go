// Package render implements the render step invoked by the audio host once
// per block. Process never blocks on producers, never allocates and never
// lets a panic escape: every output block is fully written with either the
// next queued chunk or silence.
package render

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/d1nch8g/audiobridge/queue"
)

// Source is the render side of a chunk queue.
type Source interface {
	Dequeue() (queue.Chunk, bool)
}

// Layout decides how sources map onto output channels.
type Layout int

const (
	// PerChannel feeds output channel i from source i.
	PerChannel Layout = iota
	// Broadcast dequeues once per step from source 0 and writes the chunk to
	// every output channel.
	Broadcast
)

// ErrNoSources is returned when a processor is created without sources.
var ErrNoSources = errors.New("processor needs at least one source")

// Config holds the processor settings.
type Config struct {
	Layout Layout
}

// Stats is a snapshot of processor counters.
type Stats struct {
	Steps uint64
	// Silent counts channel blocks written as silence because the source
	// was empty.
	Silent    uint64
	Padded    uint64
	Truncated uint64
	// Faults counts recovered panics.
	Faults uint64
}

// Processor pulls chunks from its sources into host output blocks.
type Processor struct {
	config  Config
	sources []Source

	steps     atomic.Uint64
	silent    atomic.Uint64
	padded    atomic.Uint64
	truncated atomic.Uint64
	faults    atomic.Uint64
}

// NewProcessor creates a processor reading from the given sources.
func NewProcessor(config Config, sources ...Source) (*Processor, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	for i, s := range sources {
		if s == nil {
			return nil, fmt.Errorf("source %d is nil", i)
		}
	}
	switch config.Layout {
	case PerChannel, Broadcast:
	default:
		return nil, fmt.Errorf("unknown layout %d", config.Layout)
	}

	return &Processor{
		config:  config,
		sources: sources,
	}, nil
}

// Process writes one block per output channel and reports whether the host
// should keep invoking it. It always returns true.
func (p *Processor) Process(out [][]float32) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			p.faults.Add(1)
			for _, block := range out {
				clear(block)
			}
			keep = true
		}
	}()

	p.steps.Add(1)

	if p.config.Layout == Broadcast {
		if len(out) == 0 {
			return true
		}
		chunk, ok := p.sources[0].Dequeue()
		for _, block := range out {
			p.write(block, chunk, ok)
		}
		return true
	}

	for ch, block := range out {
		if ch >= len(p.sources) {
			clear(block)
			continue
		}
		chunk, ok := p.sources[ch].Dequeue()
		p.write(block, chunk, ok)
	}
	return true
}

func (p *Processor) write(block []float32, chunk queue.Chunk, ok bool) {
	if !ok {
		p.silent.Add(1)
		clear(block)
		return
	}
	n := copy(block, chunk)
	switch {
	case n < len(block):
		p.padded.Add(1)
		clear(block[n:])
	case len(chunk) > n:
		p.truncated.Add(1)
	}
}

// Channels returns the number of sources.
func (p *Processor) Channels() int {
	return len(p.sources)
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Steps:     p.steps.Load(),
		Silent:    p.silent.Load(),
		Padded:    p.padded.Load(),
		Truncated: p.truncated.Load(),
		Faults:    p.faults.Load(),
	}
}

func (l Layout) String() string {
	switch l {
	case PerChannel:
		return "per-channel"
	case Broadcast:
		return "broadcast"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout parses "per-channel" or "broadcast".
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-channel":
		return PerChannel, nil
	case "broadcast":
		return Broadcast, nil
	}
	return 0, fmt.Errorf("unknown layout %q", s)
}
