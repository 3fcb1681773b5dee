// Package ocr turns captured frames into positioned text fragments.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/rewind/internal/capture"
)

// ErrNotReady is returned by Extract while the engine is still warming up
// or failed to warm. It is distinct from an empty result.
var ErrNotReady = errors.New("text extractor not ready")

// Engine is a text recognition backend. Extract is never called
// concurrently.
type Engine interface {
	Warm(ctx context.Context) error
	Extract(ctx context.Context, img image.Image) ([]Fragment, error)
	Close() error
}

// State is the extractor lifecycle stage.
type State int32

const (
	StateCold State = iota
	StateWarming
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateWarming:
		return "warming"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for c := StateCold; c <= StateFailed; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown extractor state %q", b)
}

// Extractor serializes access to one Engine and tracks its warm-up.
type Extractor struct {
	engine        Engine
	minConfidence float64

	state   atomic.Int32
	warmErr atomic.Pointer[error]
	ready   chan struct{}
	once    sync.Once

	mu sync.Mutex
}

func NewExtractor(engine Engine, minConfidence float64) *Extractor {
	return &Extractor{
		engine:        engine,
		minConfidence: minConfidence,
		ready:         make(chan struct{}),
	}
}

// Start warms the engine in the background. Only the first call has effect.
func (x *Extractor) Start(ctx context.Context) {
	x.once.Do(func() {
		x.state.Store(int32(StateWarming))
		go x.warm(ctx)
	})
}

func (x *Extractor) warm(ctx context.Context) {
	defer close(x.ready)

	if err := x.warmEngine(ctx); err != nil {
		x.warmErr.Store(&err)
		x.state.Store(int32(StateFailed))
		return
	}
	x.state.Store(int32(StateReady))
}

// WaitReady blocks until warm-up finishes or ctx is done.
func (x *Extractor) WaitReady(ctx context.Context) error {
	select {
	case <-x.ready:
		if err := x.WarmErr(); err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle stage.
func (x *Extractor) State() State {
	return State(x.state.Load())
}

// WarmErr returns the warm-up failure, if any.
func (x *Extractor) WarmErr() error {
	if p := x.warmErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Extract recognizes text in f. Fragments below the confidence floor and
// blank fragments are dropped; the rest are stamped with the frame's capture
// time and sorted into reading order.
func (x *Extractor) Extract(ctx context.Context, f *capture.Frame) ([]Fragment, error) {
	if x.State() != StateReady {
		return nil, ErrNotReady
	}

	frags, err := x.extractEngine(ctx, f.Image)
	if err != nil {
		return nil, fmt.Errorf("extract frame %d: %w", f.Seq, err)
	}

	frags = Filter(frags, x.minConfidence)
	for i := range frags {
		frags[i].CapturedAt = f.CapturedAt
	}
	SortReadingOrder(frags)
	return frags, nil
}

// warmEngine and extractEngine hold mu for the engine call only and turn an
// engine panic into an error, so a misbehaving engine never leaves mu held.
func (x *Extractor) warmEngine(ctx context.Context) (err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine warm-up panicked: %v", r)
		}
	}()
	return x.engine.Warm(ctx)
}

func (x *Extractor) extractEngine(ctx context.Context, img image.Image) (frags []Fragment, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			frags, err = nil, fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return x.engine.Extract(ctx, img)
}

// Close releases the engine.
func (x *Extractor) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.Close()
}
