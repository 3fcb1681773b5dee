package capture

import (
	"context"
	"sync"
)

// MailboxStats counts frames through a mailbox.
type MailboxStats struct {
	Published        uint64 `json:"published"`
	Consumed         uint64 `json:"consumed"`
	Dropped          uint64 `json:"dropped"`
	ConsecutiveDrops uint64 `json:"consecutive_drops"`
	LastConsumedSeq  uint64 `json:"last_consumed_seq"`
}

// Mailbox is a single-slot hand-off between the capture loop and one
// consumer. Publishing over an unconsumed frame replaces it, so the consumer
// always sees the newest frame and the producer never waits.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
	stats  MailboxStats
}

func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores f, replacing any unconsumed frame. It reports whether a
// frame was dropped. Publishing to a closed mailbox is a no-op.
func (m *Mailbox) Publish(f *Frame) (dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.frame != nil {
		m.stats.Dropped++
		m.stats.ConsecutiveDrops++
		dropped = true
	}
	m.frame = f
	m.stats.Published++
	m.cond.Signal()
	return dropped
}

// Next blocks until a frame is available, the mailbox is closed, or ctx is
// done. ok is false in the latter two cases. Next must be called from a
// single consumer goroutine.
func (m *Mailbox) Next(ctx context.Context) (f *Frame, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed && ctx.Err() == nil {
		m.cond.Wait()
	}
	if m.frame == nil {
		return nil, false
	}

	f = m.frame
	m.frame = nil
	m.stats.Consumed++
	m.stats.ConsecutiveDrops = 0
	m.stats.LastConsumedSeq = f.Seq
	return f, true
}

// Close wakes the consumer and discards any pending frame. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.frame = nil
	m.cond.Broadcast()
}

// Pending reports whether an unconsumed frame is waiting.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame != nil
}

func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
