// Package runtime wires the capture, extraction, buffering and analysis
// stages together and runs them until shutdown.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/rewind/internal/analyzer"
	"github.com/felixgeelhaar/rewind/internal/buffer"
	"github.com/felixgeelhaar/rewind/internal/capture"
	"github.com/felixgeelhaar/rewind/internal/config"
	"github.com/felixgeelhaar/rewind/internal/guard"
	"github.com/felixgeelhaar/rewind/internal/observe"
	"github.com/felixgeelhaar/rewind/internal/ocr"
	"github.com/felixgeelhaar/rewind/internal/provider"
	"github.com/felixgeelhaar/rewind/internal/query"
)

// Components are the pieces that touch the outside world.
type Components struct {
	Grabber  capture.Grabber
	Engine   ocr.Engine
	Backends []analyzer.Backend
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Runtime owns one pipeline instance.
type Runtime struct {
	cfg     *config.Config
	observe *observe.Observer
	bus     *EventBus
	events  *Counter
	clock   func() time.Time

	mailbox   *capture.Mailbox
	source    *capture.Source
	extractor *ocr.Extractor
	worker    *ocr.Worker
	buffer    *buffer.Buffer
	analyzer  *analyzer.Analyzer
	surface   *query.Surface
	server    *query.Server
}

// New builds the pipeline described by cfg.
func New(cfg *config.Config, c Components, o *observe.Observer) (*Runtime, error) {
	if c.Grabber == nil {
		return nil, fmt.Errorf("runtime: no screen grabber")
	}
	if c.Engine == nil {
		return nil, fmt.Errorf("runtime: no text extraction engine")
	}
	if len(c.Backends) == 0 {
		return nil, config.ErrNoProviders
	}
	clock := c.Clock
	if clock == nil {
		clock = time.Now
	}

	r := &Runtime{
		cfg:     cfg,
		observe: o,
		bus:     NewEventBus(clock),
		events:  NewCounter(),
		clock:   clock,
		mailbox: capture.NewMailbox(),
	}
	r.bus.SubscribeAll(r.events.Handle)
	r.bus.SubscribeAll(r.logEvent)

	r.source = capture.NewSource(c.Grabber, r.mailbox, cfg.CaptureInterval(), cfg.Capture.MaxDimension, clock, o)
	r.source.OnDrop = func(seq uint64) {
		r.bus.PublishWithData(EventFrameDropped, map[string]any{"seq": seq})
	}
	r.source.OnError = func(err error) {
		r.bus.PublishWithData(EventCaptureFailed, map[string]any{"error": err.Error()})
	}

	r.extractor = ocr.NewExtractor(c.Engine, cfg.OCR.MinConfidence)
	r.buffer = buffer.New(cfg.Retention(), clock)
	r.worker = ocr.NewWorker(r.extractor, r.mailbox, r.buffer, o)
	r.worker.OnFailure = func(seq uint64, err error) {
		r.bus.PublishWithData(EventExtractionFailed, map[string]any{"seq": seq, "error": err.Error()})
	}

	kinds := make([]analyzer.Kind, 0, len(cfg.Analysis.KeyInfoKinds))
	for _, k := range cfg.Analysis.KeyInfoKinds {
		kinds = append(kinds, analyzer.ParseKind(k, nil))
	}
	r.analyzer = analyzer.New(r.buffer, analyzer.Options{
		Backends: c.Backends,
		Interval: cfg.AnalysisInterval(),
		Cache:    analyzer.NewKeyInfoCache(cfg.KeyInfoExpiry(), cfg.Analysis.KeyInfoMaxItems),
		Guard: guard.New(guard.Policy{
			IgnoreApplications: cfg.Analysis.IgnoreApplications,
			MinTranscriptChars: guard.DefaultPolicy.MinTranscriptChars,
		}),
		Kinds: kinds,
		Clock: clock,
	}, o)
	r.analyzer.OnEvent = func(name string, data map[string]any) {
		r.bus.PublishWithData(EventType(name), data)
	}

	r.surface = query.NewSurface(r.analyzer, r.buffer, r.extractor, cfg.StaleAfter(), clock)
	if cfg.Query.Listen != "" {
		r.server = query.NewServer(cfg.Query.Listen, r.surface, o)
	}
	return r, nil
}

// BackendsFromConfig builds the analyzer fallback chain from provider
// configurations, in order.
func BackendsFromConfig(providers []config.ProviderConfig) ([]analyzer.Backend, error) {
	backends := make([]analyzer.Backend, 0, len(providers))
	for _, pc := range providers {
		p, err := provider.New(pc)
		if err != nil {
			return nil, err
		}
		backends = append(backends, analyzer.Backend{
			Provider:          p,
			MaxInputChars:     pc.MaxInputChars,
			Timeout:           pc.Timeout(),
			RequestsPerMinute: pc.RequestsPerMinute,
		})
	}
	return backends, nil
}

func (r *Runtime) Bus() *EventBus { return r.bus }
func (r *Runtime) Surface() *query.Surface { return r.surface }
func (r *Runtime) Analyzer() *analyzer.Analyzer { return r.analyzer }
func (r *Runtime) Buffer() *buffer.Buffer { return r.buffer }
func (r *Runtime) Extractor() *ocr.Extractor { return r.extractor }
func (r *Runtime) Source() *capture.Source { return r.source }
func (r *Runtime) Mailbox() *capture.Mailbox { return r.mailbox }
func (r *Runtime) Worker() *ocr.Worker { return r.worker }

// Run starts every stage and blocks until ctx is done and all stages have
// stopped. The extraction worker finishes its in-flight frame and the
// analyzer its in-flight cycle.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, span := r.observe.StartSpan(ctx, "runtime.Run")
	defer span.End()

	r.observe.Log().Info().
		Str("providers", r.analyzer.String()).
		Str("retention", r.cfg.Retention().String()).
		Str("interval", r.cfg.AnalysisInterval().String()).
		Msg("starting pipeline")

	r.extractor.Start(ctx)

	var wg sync.WaitGroup
	r.spawn(ctx, &wg, "capture", func() { r.source.Run(ctx) })
	r.spawn(ctx, &wg, "extract", func() { r.worker.Run(ctx) })
	r.spawn(ctx, &wg, "evict", func() { r.buffer.RunEvictor(ctx, r.cfg.EvictEvery()) })
	r.spawn(ctx, &wg, "analyze", func() { r.analyzer.Run(ctx) })
	if r.server != nil {
		r.spawn(ctx, &wg, "query", func() {
			if err := r.server.Serve(ctx); err != nil {
				r.observe.Log().Error().Err(err).Msg("query server stopped")
			}
		})
	}

	go func() {
		if err := r.extractor.WaitReady(ctx); err != nil && ctx.Err() == nil {
			r.observe.Log().Error().Err(err).Msg("text extraction engine failed to start; context will go stale")
			return
		}
		if ctx.Err() == nil {
			r.observe.Log().Info().Msg("text extraction engine ready")
		}
	}()

	<-ctx.Done()
	r.mailbox.Close()
	wg.Wait()

	if err := r.extractor.Close(); err != nil {
		r.observe.Log().Warn().Err(err).Msg("failed to close extraction engine")
	}
	r.observe.Log().Info().Msg("pipeline stopped")
	return nil
}

// stageRestartDelay is the pause before a panicked stage is started again.
var stageRestartDelay = 100 * time.Millisecond

// spawn runs fn on its own goroutine. A panic is logged and the stage is
// started again until ctx is done.
func (r *Runtime) spawn(ctx context.Context, wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r.runStage(name, fn) && ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(stageRestartDelay):
			}
			r.observe.Log().Warn().Str("stage", name).Msg("restarting pipeline stage")
		}
	}()
}

func (r *Runtime) runStage(name string, fn func()) (panicked bool) {
	defer func() {
		if p := recover(); p != nil {
			r.observe.Log().Error().Str("stage", name).Str("panic", fmt.Sprint(p)).Msg("pipeline stage panicked")
			panicked = true
		}
	}()
	fn()
	return false
}

func (r *Runtime) logEvent(e Event) {
	switch e.Type {
	case EventFrameDropped, EventProviderRequested, EventKeyInfoAdded, EventCycleSkipped:
		r.observe.Log().Debug().Str("event", string(e.Type)).Msg("pipeline event")
	default:
		r.observe.Log().Info().Str("event", string(e.Type)).Msg("pipeline event")
	}
}

// Summary reports pipeline counters, e.g. at shutdown.
type Summary struct {
	Frames     capture.MailboxStats `json:"frames"`
	CaptureErr uint64               `json:"capture_errors"`
	Extraction ocr.WorkerStats      `json:"extraction"`
	Buffer     buffer.Stats         `json:"buffer"`
	Analysis   analyzer.Stats       `json:"analysis"`
	KeyInfo    int                  `json:"key_info"`
	Events     map[EventType]int    `json:"events"`
}

func (r *Runtime) Summary() Summary {
	return Summary{
		Frames:     r.mailbox.Stats(),
		CaptureErr: r.source.Errors(),
		Extraction: r.worker.Stats(),
		Buffer:     r.buffer.Stats(),
		Analysis:   r.analyzer.Stats(),
		KeyInfo:    len(r.analyzer.Cache().List(r.clock())),
		Events:     r.events.Snapshot(),
	}
}
