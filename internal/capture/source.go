// Package capture samples the screen on a fixed period and hands the newest
// frame to a single consumer.
package capture

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/rewind/internal/observe"
)

// Source drives a Grabber on a ticker and publishes into a Mailbox.
type Source struct {
	grabber  Grabber
	mailbox  *Mailbox
	interval time.Duration
	maxDim   int
	clock    func() time.Time
	obs      *observe.Observer

	// OnDrop is called after a publish replaced an unconsumed frame.
	OnDrop func(seq uint64)
	// OnError is called when a grab fails.
	OnError func(err error)

	seq    uint64
	errors atomic.Uint64
}

// NewSource creates a source sampling every interval. A nil clock uses
// time.Now.
func NewSource(g Grabber, mb *Mailbox, interval time.Duration, maxDim int, clock func() time.Time, obs *observe.Observer) *Source {
	if clock == nil {
		clock = time.Now
	}
	return &Source{
		grabber:  g,
		mailbox:  mb,
		interval: interval,
		maxDim:   maxDim,
		clock:    clock,
		obs:      obs,
	}
}

// Run samples until ctx is done. It never waits on the consumer.
func (s *Source) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick grabs and publishes one frame. A failed grab skips the tick.
func (s *Source) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*s.interval+time.Second)
	defer cancel()

	img, err := s.grab(ctx)
	if err != nil {
		s.errors.Add(1)
		s.obs.Log().Warn().Err(err).Msg("screen capture failed, skipping tick")
		if s.OnError != nil {
			s.OnError(err)
		}
		return
	}

	img = Downscale(img, s.maxDim)
	s.seq++
	b := img.Bounds()
	f := &Frame{
		Image:      img,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: s.clock(),
		Seq:        s.seq,
	}
	if s.mailbox.Publish(f) {
		s.obs.Log().Debug().Str("seq", fmt.Sprint(f.Seq)).Msg("frame replaced before extraction")
		if s.OnDrop != nil {
			s.OnDrop(f.Seq)
		}
	}
}

func (s *Source) grab(ctx context.Context) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("grabber panicked: %v", r)
		}
	}()
	return s.grabber.Grab(ctx)
}

// Errors returns the number of failed grabs.
func (s *Source) Errors() uint64 { return s.errors.Load() }
