// Package batcher accumulates input events and releases them in time-bounded batches.
package batcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"manualpilot/remotepad/internal/protocol"
)

// DefaultInterval is the minimum spacing between two flushes, about 60 Hz.
const DefaultInterval = 16 * time.Millisecond

// ErrBacklogFull is returned by Enqueue when the event would not fit in one
// message together with everything already waiting.
var ErrBacklogFull = errors.New("batcher: backlog full")

// Coalesce selects how consecutive pointer moves merge while waiting for a flush.
type Coalesce int

const (
	// CoalesceOverwrite keeps only the newest pending delta.
	CoalesceOverwrite Coalesce = iota
	// CoalesceSum adds the new delta to the pending one.
	CoalesceSum
)

func ParseCoalesce(s string) (Coalesce, error) {
	switch s {
	case "", "overwrite":
		return CoalesceOverwrite, nil
	case "sum":
		return CoalesceSum, nil
	default:
		return 0, fmt.Errorf("batcher: unknown coalesce policy %q", s)
	}
}

func (c Coalesce) String() string {
	if c == CoalesceSum {
		return "sum"
	}

	return "overwrite"
}

// Sink receives one non-empty batch. A returned error puts the batch back at
// the head of the queue.
type Sink func(ctx context.Context, batch protocol.Batch) error

type Option func(*Batcher)

func WithInterval(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithMaxBytes caps the encoded size of the backlog and of every batch handed
// to the sink. The default is protocol.MaxMessageSize.
func WithMaxBytes(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

func WithCoalesce(c Coalesce) Option {
	return func(b *Batcher) {
		b.coalesce = c
	}
}

// Batcher is an ordered event queue with a rate-limited drain.
// Enqueue is safe from any goroutine; Run must have a single caller at a time.
type Batcher struct {
	interval time.Duration
	coalesce Coalesce
	maxBytes int

	mu       sync.Mutex
	queue    []protocol.Event
	sizes    []int
	bytes    int
	inflight int
	ready    chan struct{}
}

func New(opts ...Option) *Batcher {
	b := &Batcher{
		interval: DefaultInterval,
		coalesce: CoalesceOverwrite,
		maxBytes: protocol.MaxMessageSize,
		ready:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Batcher) Interval() time.Duration { return b.interval }

// Enqueue appends ev. A pointer move that directly follows another pending
// pointer move is merged into it; moves never merge across other events.
// It fails with ErrBacklogFull rather than queue more than one message can carry.
func (b *Batcher) Enqueue(ev protocol.Event) error {
	size, err := encodedSize(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if mv, ok := ev.(protocol.PointerMove); ok && len(b.queue) > 0 {
		last := len(b.queue) - 1
		if prev, ok := b.queue[last].(protocol.PointerMove); ok {
			if b.coalesce == CoalesceSum {
				mv.DeltaX += prev.DeltaX
				mv.DeltaY += prev.DeltaY
				if size, err = encodedSize(mv); err != nil {
					b.mu.Unlock()
					return err
				}
			}

			if b.bytes-b.sizes[last]+size > b.budget() {
				b.mu.Unlock()
				return fmt.Errorf("%w: %d bytes queued", ErrBacklogFull, b.bytes)
			}

			b.bytes += size - b.sizes[last]
			b.queue[last] = mv
			b.sizes[last] = size
			b.mu.Unlock()
			b.signal()
			return nil
		}
	}

	if b.bytes+size > b.budget() {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d bytes queued", ErrBacklogFull, b.bytes)
	}

	b.queue = append(b.queue, ev)
	b.sizes = append(b.sizes, size)
	b.bytes += size
	b.mu.Unlock()
	b.signal()
	return nil
}

// Drain removes and returns queued events from the head, as many as fit in one
// message, or nil when there are none.
func (b *Batcher) Drain() protocol.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.take()
}

func (b *Batcher) take() protocol.Batch {
	if len(b.queue) == 0 {
		return nil
	}

	n, total := 0, 0
	for n < len(b.queue) && (n == 0 || total+b.sizes[n] <= b.budget()) {
		total += b.sizes[n]
		n++
	}

	batch := make(protocol.Batch, n)
	copy(batch, b.queue[:n])

	b.queue = b.queue[n:]
	b.sizes = b.sizes[n:]
	b.bytes -= total
	if len(b.queue) == 0 {
		b.queue, b.sizes, b.bytes = nil, nil, 0
	}

	return batch
}

// Requeue puts an unsent batch back in front of anything queued since. It is
// never refused; Drain splits the result again if it grew past one message.
func (b *Batcher) Requeue(batch protocol.Batch) {
	if len(batch) == 0 {
		return
	}

	sizes := make([]int, 0, len(batch))
	total := 0
	for _, ev := range batch {
		size, _ := encodedSize(ev)
		sizes = append(sizes, size)
		total += size
	}

	b.mu.Lock()
	queue := make([]protocol.Event, 0, len(batch)+len(b.queue))
	queue = append(queue, batch...)
	b.queue = append(queue, b.queue...)
	b.sizes = append(sizes, b.sizes...)
	b.bytes += total
	b.mu.Unlock()
	b.signal()
}

// Discard drops every queued event and returns how many there were.
func (b *Batcher) Discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.queue)
	b.queue, b.sizes, b.bytes = nil, nil, 0
	return n
}

// Len is the number of queued events, not counting a batch being sent.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Pending is Len plus the events of a batch the sink has not returned from yet.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + b.inflight
}

// Ready fires after an enqueue. Signals coalesce; an empty Drain after a
// signal is normal.
func (b *Batcher) Ready() <-chan struct{} {
	return b.ready
}

// Run hands batches to sink until ctx is done or sink fails. Two sends are
// never closer than the interval; a send happens as soon as that spacing
// allows. Events already queued when Run starts go out first.
func (b *Batcher) Run(ctx context.Context, sink Sink) error {
	var (
		last    time.Time
		timer   *time.Timer
		fire    <-chan time.Time
		pending = b.Len() > 0
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if pending && fire == nil {
			wait := b.interval - time.Since(last)
			if wait <= 0 {
				sent, err := b.flush(ctx, sink)
				if err != nil {
					return err
				}

				if sent {
					last = time.Now()
				}

				pending = b.Len() > 0
				continue
			}

			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ready:
			pending = true
		case <-fire:
			fire = nil
			timer = nil

			sent, err := b.flush(ctx, sink)
			if err != nil {
				return err
			}

			if sent {
				last = time.Now()
			}

			pending = b.Len() > 0
		}
	}
}

func (b *Batcher) flush(ctx context.Context, sink Sink) (bool, error) {
	b.mu.Lock()
	batch := b.take()
	b.inflight = len(batch)
	b.mu.Unlock()

	if len(batch) == 0 {
		return false, nil
	}

	err := sink(ctx, batch)
	if err != nil {
		b.Requeue(batch)
	}

	b.mu.Lock()
	b.inflight = 0
	b.mu.Unlock()

	if err != nil {
		return false, fmt.Errorf("batcher: send %d events: %w", len(batch), err)
	}

	return true, nil
}

func (b *Batcher) budget() int {
	// the enclosing brackets of the JSON array
	return b.maxBytes - 2
}

// encodedSize is the share of ev in an encoded batch, its separating comma included.
func encodedSize(ev protocol.Event) (int, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	return len(raw) + 1, nil
}

func (b *Batcher) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
