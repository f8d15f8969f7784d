package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Policy decides what Put does when the mailbox is full.
type Policy int

const (
	// DropOldest discards the oldest queued item so the newest always fits.
	DropOldest Policy = iota
	// Block waits for room. Used for replays, where every frame matters.
	Block
)

func (p Policy) String() string {
	if p == Block {
		return "block"
	}
	return "drop_oldest"
}

// MailboxStats counts mailbox traffic.
type MailboxStats struct {
	Capacity int    `json:"capacity"`
	Policy   string `json:"policy"`
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
}

// Mailbox hands items from one producer to one consumer. With DropOldest it
// is latest-wins: a slow consumer sees the freshest items and the rest are
// counted as dropped.
type Mailbox[T any] struct {
	ch        chan T
	policy    Policy
	closeOnce sync.Once

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// NewMailbox creates a mailbox. Capacity is at least 1.
func NewMailbox[T any](capacity int, policy Policy) *Mailbox[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox[T]{ch: make(chan T, capacity), policy: policy}
}

// Put enqueues v. It returns false if ctx ended before v was queued.
// Only the producer may call Put and Close.
func (m *Mailbox[T]) Put(ctx context.Context, v T) bool {
	if m.policy == Block {
		select {
		case m.ch <- v:
			m.accepted.Add(1)
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case m.ch <- v:
			m.accepted.Add(1)
			return true
		default:
		}
		select {
		case <-m.ch:
			m.dropped.Add(1)
		default:
		}
		if ctx.Err() != nil {
			return false
		}
	}
}

// Receive returns the consumer side. It is closed by Close.
func (m *Mailbox[T]) Receive() <-chan T {
	return m.ch
}

// Close tells the consumer no more items will arrive.
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() { close(m.ch) })
}

// Dropped returns the number of items discarded so far.
func (m *Mailbox[T]) Dropped() uint64 {
	return m.dropped.Load()
}

// Stats returns the traffic counters.
func (m *Mailbox[T]) Stats() MailboxStats {
	return MailboxStats{
		Capacity: cap(m.ch),
		Policy:   m.policy.String(),
		Accepted: m.accepted.Load(),
		Dropped:  m.dropped.Load(),
	}
}
