package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/rewind/internal/capture"
	"github.com/felixgeelhaar/rewind/internal/observe"
)

// Sink receives the fragments extracted from one frame.
type Sink interface {
	Add(ts time.Time, frags []Fragment) error
}

// WorkerStats counts extraction outcomes.
type WorkerStats struct {
	Processed uint64 `json:"processed"`
	Appended  uint64 `json:"appended"`
	Empty     uint64 `json:"empty"`
	NotReady  uint64 `json:"not_ready"`
	Failed    uint64 `json:"failed"`
}

// Worker consumes frames one at a time and feeds non-empty results to a Sink.
type Worker struct {
	extractor *Extractor
	mailbox   *capture.Mailbox
	sink      Sink
	obs       *observe.Observer

	// OnFailure is called when extraction of a frame fails.
	OnFailure func(seq uint64, err error)

	last time.Time

	processed atomic.Uint64
	appended  atomic.Uint64
	empty     atomic.Uint64
	notReady  atomic.Uint64
	failed    atomic.Uint64
}

func NewWorker(x *Extractor, mb *capture.Mailbox, sink Sink, obs *observe.Observer) *Worker {
	return &Worker{extractor: x, mailbox: mb, sink: sink, obs: obs}
}

// Run processes frames until the mailbox is closed or ctx is done. A frame
// already being extracted is finished before returning.
func (w *Worker) Run(ctx context.Context) {
	for {
		f, ok := w.mailbox.Next(ctx)
		if !ok {
			return
		}
		w.Process(context.WithoutCancel(ctx), f)
	}
}

// Process extracts one frame and appends the result.
func (w *Worker) Process(ctx context.Context, f *capture.Frame) {
	w.processed.Add(1)

	frags, err := w.extract(ctx, f)
	switch {
	case errors.Is(err, ErrNotReady):
		w.notReady.Add(1)
		return
	case err != nil:
		w.failed.Add(1)
		w.obs.Log().Warn().Err(err).Msg("text extraction failed")
		if w.OnFailure != nil {
			w.OnFailure(f.Seq, err)
		}
		return
	case len(frags) == 0:
		w.empty.Add(1)
		return
	}

	ts := f.CapturedAt
	if !ts.After(w.last) {
		ts = w.last.Add(time.Nanosecond)
	}
	if err := w.sink.Add(ts, frags); err != nil {
		w.failed.Add(1)
		w.obs.Log().Error().Err(err).Msg("failed to append extraction to buffer")
		return
	}
	w.last = ts
	w.appended.Add(1)
}

func (w *Worker) extract(ctx context.Context, f *capture.Frame) (frags []Fragment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()
	return w.extractor.Extract(ctx, f)
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Processed: w.processed.Load(),
		Appended:  w.appended.Load(),
		Empty:     w.empty.Load(),
		NotReady:  w.notReady.Load(),
		Failed:    w.failed.Load(),
	}
}
