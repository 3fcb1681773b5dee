// Package buffer holds the rolling window of recently extracted screen text.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/rewind/internal/ocr"
)

// ErrOutOfOrder is returned by Append when an entry's timestamp does not
// strictly follow the newest entry.
var ErrOutOfOrder = errors.New("entry timestamp not after newest entry")

// ErrEmptyEntry is returned by Append for entries without fragments.
var ErrEmptyEntry = errors.New("entry has no fragments")

// Clock returns the current time.
type Clock func() time.Time

// Entry is the text extracted from one frame.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Fragments []ocr.Fragment `json:"fragments"`
}

// Lines returns the entry's text lines in reading order.
func (e Entry) Lines() []string {
	return ocr.Lines(e.Fragments)
}

// Window is an ordered copy of the entries inside [From, To].
type Window struct {
	Entries []Entry
	From    time.Time
	To      time.Time
}

// Empty reports whether the window holds no entries.
func (w Window) Empty() bool { return len(w.Entries) == 0 }

// Stats summarizes buffer contents.
type Stats struct {
	Entries       int       `json:"entries"`
	Fragments     int       `json:"fragments"`
	Characters    int       `json:"characters"`
	AvgConfidence float64   `json:"avg_confidence"`
	Oldest        time.Time `json:"oldest"`
	Newest        time.Time `json:"newest"`
	Appended      uint64    `json:"appended"`
	Evicted       uint64    `json:"evicted"`
}

// Buffer is a time-ordered rolling window of entries. Appends go to the
// tail and eviction advances head, so both are O(1) amortized.
type Buffer struct {
	mu        sync.RWMutex
	entries   []Entry
	head      int
	retention time.Duration
	clock     Clock

	appended uint64
	evicted  uint64
}

// New creates a buffer keeping entries for retention. A nil clock uses
// time.Now.
func New(retention time.Duration, clock Clock) *Buffer {
	if clock == nil {
		clock = time.Now
	}
	return &Buffer{
		retention: retention,
		clock:     clock,
	}
}

// Retention returns the window length.
func (b *Buffer) Retention() time.Duration { return b.retention }

// Now returns the buffer's clock reading.
func (b *Buffer) Now() time.Time { return b.clock() }

// Append adds e at the tail.
func (b *Buffer) Append(e Entry) error {
	if len(e.Fragments) == 0 {
		return ErrEmptyEntry
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.entries); n > b.head {
		if last := b.entries[n-1].Timestamp; !e.Timestamp.After(last) {
			return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, e.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
		}
	}
	b.entries = append(b.entries, e)
	b.appended++
	return nil
}

// Add appends the fragments extracted from a frame captured at ts.
func (b *Buffer) Add(ts time.Time, frags []ocr.Fragment) error {
	return b.Append(Entry{Timestamp: ts, Fragments: frags})
}

// Newest returns the timestamp of the newest entry, or the zero time.
func (b *Buffer) Newest() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n := len(b.entries); n > b.head {
		return b.entries[n-1].Timestamp
	}
	return time.Time{}
}

// Snapshot returns a copy of the entries within [now-retention, now].
func (b *Buffer) Snapshot(now time.Time) Window {
	from := now.Add(-b.retention)

	b.mu.RLock()
	defer b.mu.RUnlock()

	live := b.entries[b.head:]
	start := searchFrom(live, from)
	end := start
	for end < len(live) && !live[end].Timestamp.After(now) {
		end++
	}

	w := Window{From: from, To: now}
	if end > start {
		w.Entries = make([]Entry, end-start)
		for i, e := range live[start:end] {
			w.Entries[i] = Entry{
				Timestamp: e.Timestamp,
				Fragments: append([]ocr.Fragment(nil), e.Fragments...),
			}
		}
	}
	return w
}

// Evict removes entries older than now-retention and returns how many were
// removed. Calling it again with the same now removes nothing.
func (b *Buffer) Evict(now time.Time) int {
	cutoff := now.Add(-b.retention)

	b.mu.Lock()
	defer b.mu.Unlock()

	n := searchFrom(b.entries[b.head:], cutoff)
	if n == 0 {
		return 0
	}
	for i := b.head; i < b.head+n; i++ {
		b.entries[i] = Entry{}
	}
	b.head += n
	b.evicted += uint64(n)

	if b.head > len(b.entries)/2 {
		live := copy(b.entries, b.entries[b.head:])
		for i := live; i < len(b.entries); i++ {
			b.entries[i] = Entry{}
		}
		b.entries = b.entries[:live]
		b.head = 0
	}
	return n
}

// RunEvictor evicts on a fixed period until ctx is done.
func (b *Buffer) RunEvictor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Evict(b.clock())
		}
	}
}

// Len returns the number of live entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries) - b.head
}

// Stats summarizes live entries.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{Appended: b.appended, Evicted: b.evicted}
	live := b.entries[b.head:]
	s.Entries = len(live)
	if len(live) == 0 {
		return s
	}
	s.Oldest = live[0].Timestamp
	s.Newest = live[len(live)-1].Timestamp

	var conf float64
	for _, e := range live {
		for _, f := range e.Fragments {
			s.Fragments++
			s.Characters += len([]rune(f.Text))
			conf += f.Confidence
		}
	}
	if s.Fragments > 0 {
		s.AvgConfidence = conf / float64(s.Fragments)
	}
	return s
}

// searchFrom returns the index of the first entry with Timestamp >= t.
func searchFrom(entries []Entry, t time.Time) int {
	return sort.Search(len(entries), func(i int) bool {
		return !entries[i].Timestamp.Before(t)
	})
}
