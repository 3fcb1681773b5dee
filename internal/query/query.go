// Package query exposes the current context to readers in and out of
// process.
package query

import (
	"time"

	"github.com/felixgeelhaar/rewind/internal/analyzer"
	"github.com/felixgeelhaar/rewind/internal/buffer"
	"github.com/felixgeelhaar/rewind/internal/ocr"
)

// Analysis is the analyzer state a Surface reads.
type Analysis interface {
	Result() *analyzer.Result
	LastSuccess() time.Time
	Cache() *analyzer.KeyInfoCache
	Phase() analyzer.Phase
	Stats() analyzer.Stats
	Trigger() bool
}

// BufferStats reports rolling buffer occupancy.
type BufferStats interface {
	Stats() buffer.Stats
}

// ExtractorState reports text extractor readiness.
type ExtractorState interface {
	State() ocr.State
}

// Context is what the user sees: the latest summary, the remembered key
// information and whether either can be trusted.
type Context struct {
	Result      *analyzer.Result   `json:"result,omitempty"`
	KeyInfo     []analyzer.KeyInfo `json:"key_info"`
	IsStale     bool               `json:"is_stale"`
	LastSuccess time.Time          `json:"last_success"`
	Phase       analyzer.Phase     `json:"phase"`
	Buffer      buffer.Stats       `json:"buffer"`
	Extractor   ocr.State          `json:"extractor"`
	Analysis    analyzer.Stats     `json:"analysis"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Surface answers context queries from in-memory state. It never waits on
// a running analysis cycle.
type Surface struct {
	analysis   Analysis
	buffer     BufferStats
	extractor  ExtractorState
	staleAfter time.Duration
	clock      func() time.Time
}

// NewSurface creates a surface. A result older than staleAfter is reported
// as stale. A nil clock uses time.Now.
func NewSurface(a Analysis, b BufferStats, x ExtractorState, staleAfter time.Duration, clock func() time.Time) *Surface {
	if clock == nil {
		clock = time.Now
	}
	return &Surface{
		analysis:   a,
		buffer:     b,
		extractor:  x,
		staleAfter: staleAfter,
		clock:      clock,
	}
}

// Now returns the surface clock's current time.
func (s *Surface) Now() time.Time { return s.clock() }

// CurrentContext assembles the context as of now.
func (s *Surface) CurrentContext(now time.Time) Context {
	last := s.analysis.LastSuccess()
	c := Context{
		Result:      s.analysis.Result(),
		KeyInfo:     s.analysis.Cache().List(now),
		LastSuccess: last,
		IsStale:     last.IsZero() || now.Sub(last) > s.staleAfter,
		Phase:       s.analysis.Phase(),
		Analysis:    s.analysis.Stats(),
		GeneratedAt: now,
	}
	if s.buffer != nil {
		c.Buffer = s.buffer.Stats()
	}
	if s.extractor != nil {
		c.Extractor = s.extractor.State()
	}
	return c
}

// Trigger requests an analysis cycle ahead of schedule.
func (s *Surface) Trigger() bool {
	return s.analysis.Trigger()
}
