// Package analyzer periodically summarizes the rolling text window with an
// LLM and remembers key information across cycles.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/rewind/internal/buffer"
	"github.com/felixgeelhaar/rewind/internal/guard"
	"github.com/felixgeelhaar/rewind/internal/observe"
	"github.com/felixgeelhaar/rewind/internal/provider"
)

// ErrAllProvidersFailed is returned by Cycle when no provider produced a
// usable answer.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Event names passed to OnEvent.
const (
	EventCycleSkipped      = "cycle_skipped"
	EventProviderRequested = "provider_requested"
	EventProviderFailed    = "provider_failed"
	EventAnalysisUpdated   = "analysis_updated"
	EventCycleFailed       = "cycle_failed"
	EventKeyInfoAdded      = "key_info_added"
)

// Window is the read side of the text buffer.
type Window interface {
	Snapshot(now time.Time) buffer.Window
}

// Backend is one provider in the fallback order with its call limits.
type Backend struct {
	Provider          provider.Provider
	MaxInputChars     int
	Timeout           time.Duration
	RequestsPerMinute float64
}

type backend struct {
	Backend
	limiter *rate.Limiter
}

// Options configure an Analyzer.
type Options struct {
	Backends []Backend
	// Interval between cycles. Defaults to 10s.
	Interval time.Duration
	// Cache receives key information. Defaults to a 5 minute cache.
	Cache *KeyInfoCache
	// Guard applies privacy rules. Defaults to guard.DefaultPolicy.
	Guard *guard.Guard
	// Kinds restricts which key information kinds are requested and kept.
	// Empty allows all kinds.
	Kinds []Kind
	Clock func() time.Time
}

// Result is the latest successful analysis.
type Result struct {
	Summary     string    `json:"summary"`
	Application string    `json:"application"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
	Provider    string    `json:"provider"`
	CycleID     string    `json:"cycle_id"`
}

// Phase is the analyzer's position inside a cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseReducing
	PhaseRequesting
	PhaseParsing
	PhaseMerging
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReducing:
		return "reducing"
	case PhaseRequesting:
		return "requesting"
	case PhaseParsing:
		return "parsing"
	case PhaseMerging:
		return "merging"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for c := PhaseIdle; c <= PhaseMerging; c++ {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// ProviderStats counts calls to one provider.
type ProviderStats struct {
	Attempts  int                     `json:"attempts"`
	Successes int                     `json:"successes"`
	Failures  map[provider.Reason]int `json:"failures"`
	LastError string                  `json:"last_error,omitempty"`
}

// Stats counts cycles since start.
type Stats struct {
	Cycles    int                      `json:"cycles"`
	Skipped   int                      `json:"skipped"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Providers map[string]ProviderStats `json:"providers"`
}

// Analyzer runs analysis cycles over a text window.
type Analyzer struct {
	window   Window
	backends []*backend
	cache    *KeyInfoCache
	guard    *guard.Guard
	allowed  map[Kind]bool
	interval time.Duration
	clock    func() time.Time
	obs      *observe.Observer

	// OnEvent receives pipeline events. It is called synchronously from the
	// cycle and must not block.
	OnEvent func(name string, data map[string]any)

	result  atomic.Pointer[Result]
	phase   atomic.Int32
	trigger chan struct{}
	cycleMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates an analyzer reading from w.
func New(w Window, opts Options, obs *observe.Observer) *Analyzer {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = NewKeyInfoCache(5*time.Minute, 50)
	}
	if opts.Guard == nil {
		opts.Guard = guard.New(guard.DefaultPolicy)
	}

	a := &Analyzer{
		window:   w,
		cache:    opts.Cache,
		guard:    opts.Guard,
		interval: opts.Interval,
		clock:    opts.Clock,
		obs:      obs,
		trigger:  make(chan struct{}, 1),
		stats:    Stats{Providers: make(map[string]ProviderStats)},
	}
	if len(opts.Kinds) > 0 {
		a.allowed = make(map[Kind]bool, len(opts.Kinds))
		for _, k := range opts.Kinds {
			a.allowed[k] = true
		}
	}
	for _, b := range opts.Backends {
		nb := &backend{Backend: b}
		if b.RequestsPerMinute > 0 {
			nb.limiter = rate.NewLimiter(rate.Limit(b.RequestsPerMinute/60), 1)
		}
		a.backends = append(a.backends, nb)
		a.stats.Providers[b.Provider.Name()] = ProviderStats{Failures: make(map[provider.Reason]int)}
	}
	return a
}

// Cache returns the key information cache.
func (a *Analyzer) Cache() *KeyInfoCache { return a.cache }

// Interval returns the period between cycles.
func (a *Analyzer) Interval() time.Duration { return a.interval }

// Result returns the latest successful analysis, or nil before the first.
func (a *Analyzer) Result() *Result { return a.result.Load() }

// LastSuccess returns when the latest successful analysis completed.
func (a *Analyzer) LastSuccess() time.Time {
	if r := a.result.Load(); r != nil {
		return r.AnalyzedAt
	}
	return time.Time{}
}

// Phase returns the current cycle phase.
func (a *Analyzer) Phase() Phase { return Phase(a.phase.Load()) }

// Stats returns a copy of the cycle counters.
func (a *Analyzer) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	out := a.stats
	out.Providers = make(map[string]ProviderStats, len(a.stats.Providers))
	for name, ps := range a.stats.Providers {
		failures := make(map[provider.Reason]int, len(ps.Failures))
		for r, n := range ps.Failures {
			failures[r] = n
		}
		ps.Failures = failures
		out.Providers[name] = ps
	}
	return out
}

// Trigger requests a cycle ahead of schedule. It reports false when one is
// already pending.
func (a *Analyzer) Trigger() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes cycles every interval, or on Trigger, until ctx is done. An
// in-flight cycle is allowed to finish; provider timeouts bound it.
func (a *Analyzer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.trigger:
		}
		a.safeCycle(context.WithoutCancel(ctx))
	}
}

func (a *Analyzer) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.phase.Store(int32(PhaseIdle))
			a.obs.Log().Error().Str("panic", fmt.Sprint(r)).Msg("analysis cycle panicked")
		}
	}()
	if err := a.Cycle(ctx); err != nil {
		a.obs.Log().Warn().Err(err).Msg("analysis cycle failed")
	}
}

// Cycle runs one analysis cycle. An empty window skips the cycle without
// error. When every provider fails the previous result is kept and
// ErrAllProvidersFailed is returned.
func (a *Analyzer) Cycle(ctx context.Context) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	id := uuid.NewString()
	ctx, span := a.obs.StartSpan(ctx, "analyzer.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("cycle.id", id))

	log := a.obs.Log()
	defer func() {
		a.phase.Store(int32(PhaseIdle))
		if n := a.cache.Expire(a.clock()); n > 0 {
			log.Debug().Str("cycle_id", id).Int("expired", n).Msg("key information expired")
		}
	}()

	a.count(func(s *Stats) { s.Cycles++ })

	a.phase.Store(int32(PhaseReducing))
	w := a.window.Snapshot(a.clock())
	if w.Empty() {
		a.skip(id, "empty_window")
		return nil
	}
	transcript := Reduce(w, 0)
	if v := a.guard.CheckTranscript(transcript); v != nil {
		a.skip(id, v.Rule)
		return nil
	}

	var lastErr error
	for i, b := range a.backends {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := b.Provider.Name()

		a.phase.Store(int32(PhaseRequesting))
		a.emit(EventProviderRequested, map[string]any{"cycle_id": id, "provider": name, "index": i})

		analysis, err := a.request(ctx, b, transcript)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", name, err)
			a.providerFailed(id, name, err)
			continue
		}

		a.providerSucceeded(name)
		a.merge(id, name, analysis)
		span.SetAttributes(attribute.String("provider", name))
		return nil
	}

	a.count(func(s *Stats) { s.Failed++ })
	a.emit(EventCycleFailed, map[string]any{"cycle_id": id, "providers": len(a.backends)})
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	err := fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "all providers failed")
	return err
}

// request makes at most one call to b and parses its reply.
func (a *Analyzer) request(ctx context.Context, b *backend, transcript string) (*Analysis, error) {
	a.count(func(s *Stats) {
		ps := s.Providers[b.Provider.Name()]
		ps.Attempts++
		s.Providers[b.Provider.Name()] = ps
	})

	if b.limiter != nil && !b.limiter.AllowN(a.clock(), 1) {
		return nil, provider.ErrRateLimited
	}

	callCtx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	text := truncateOldest(transcript, b.MaxInputChars)
	resp, err := chat(callCtx, b.Provider, BuildMessages(text, a.allowed))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, provider.ErrTimeout) {
			err = fmt.Errorf("%w: %v", provider.ErrTimeout, err)
		}
		return nil, err
	}

	a.phase.Store(int32(PhaseParsing))
	return ParseResponse(resp.Content, a.allowed)
}

// chat turns a provider panic into an error so the next backend still runs.
func chat(ctx context.Context, p provider.Provider, msgs []provider.Message) (resp *provider.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Chat(ctx, msgs)
}

func (a *Analyzer) merge(id, name string, analysis *Analysis) {
	a.phase.Store(int32(PhaseMerging))
	now := a.clock()

	a.result.Store(&Result{
		Summary:     analysis.Summary,
		Application: analysis.Application,
		AnalyzedAt:  now,
		Provider:    name,
		CycleID:     id,
	})
	a.count(func(s *Stats) { s.Succeeded++ })
	a.emit(EventAnalysisUpdated, map[string]any{
		"cycle_id":    id,
		"provider":    name,
		"summary":     analysis.Summary,
		"application": analysis.Application,
	})
	a.obs.Log().Info().
		Str("cycle_id", id).
		Str("provider", name).
		Str("application", analysis.Application).
		Msg(analysis.Summary)

	if v := a.guard.CheckApplication(analysis.Application); v != nil {
		if len(analysis.KeyInfo) > 0 {
			a.obs.Log().Info().Str("cycle_id", id).Str("rule", v.Rule).Int("dropped", len(analysis.KeyInfo)).Msg("key information suppressed")
		}
		return
	}

	for _, ki := range analysis.KeyInfo {
		if a.cache.Upsert(ki, now) {
			a.emit(EventKeyInfoAdded, map[string]any{
				"cycle_id": id,
				"kind":     string(ki.Kind),
				"text":     ki.Text,
			})
		}
	}
}

func (a *Analyzer) skip(id, reason string) {
	a.count(func(s *Stats) { s.Skipped++ })
	a.emit(EventCycleSkipped, map[string]any{"cycle_id": id, "reason": reason})
	a.obs.Log().Debug().Str("cycle_id", id).Str("reason", reason).Msg("analysis cycle skipped")
}

func (a *Analyzer) providerFailed(id, name string, err error) {
	reason := provider.Classify(err)
	a.count(func(s *Stats) {
		ps := s.Providers[name]
		if ps.Failures == nil {
			ps.Failures = make(map[provider.Reason]int)
		}
		ps.Failures[reason]++
		ps.LastError = err.Error()
		s.Providers[name] = ps
	})
	a.emit(EventProviderFailed, map[string]any{
		"cycle_id": id,
		"provider": name,
		"reason":   string(reason),
		"error":    err.Error(),
	})
	a.obs.Log().Warn().
		Str("cycle_id", id).
		Str("provider", name).
		Str("reason", string(reason)).
		Err(err).
		Msg("provider failed, trying next")
}

func (a *Analyzer) providerSucceeded(name string) {
	a.count(func(s *Stats) {
		ps := s.Providers[name]
		ps.Successes++
		s.Providers[name] = ps
	})
}

func (a *Analyzer) count(f func(*Stats)) {
	a.statsMu.Lock()
	f(&a.stats)
	a.statsMu.Unlock()
}

func (a *Analyzer) emit(name string, data map[string]any) {
	if a.OnEvent != nil {
		a.OnEvent(name, data)
	}
}

// ProviderNames lists the fallback order.
func (a *Analyzer) ProviderNames() []string {
	names := make([]string, 0, len(a.backends))
	for _, b := range a.backends {
		names = append(names, b.Provider.Name())
	}
	return names
}

// String describes the fallback order, e.g. "gemini -> groq".
func (a *Analyzer) String() string {
	return strings.Join(a.ProviderNames(), " -> ")
}
