package query

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felixgeelhaar/rewind/internal/analyzer"
	"github.com/felixgeelhaar/rewind/internal/buffer"
	"github.com/felixgeelhaar/rewind/internal/observe"
	"github.com/felixgeelhaar/rewind/internal/ocr"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAnalysis struct {
	result   *analyzer.Result
	cache    *analyzer.KeyInfoCache
	triggers int
}

func (f *fakeAnalysis) Result() *analyzer.Result { return f.result }
func (f *fakeAnalysis) LastSuccess() time.Time {
	if f.result == nil {
		return time.Time{}
	}
	return f.result.AnalyzedAt
}
func (f *fakeAnalysis) Cache() *analyzer.KeyInfoCache { return f.cache }
func (f *fakeAnalysis) Phase() analyzer.Phase         { return analyzer.PhaseIdle }
func (f *fakeAnalysis) Stats() analyzer.Stats         { return analyzer.Stats{Cycles: 3, Succeeded: 1} }
func (f *fakeAnalysis) Trigger() bool {
	f.triggers++
	return f.triggers == 1
}

type readyExtractor struct{}

func (readyExtractor) State() ocr.State { return ocr.StateReady }

func newFake() *fakeAnalysis {
	return &fakeAnalysis{cache: analyzer.NewKeyInfoCache(5*time.Minute, 0)}
}

func TestCurrentContext_Staleness(t *testing.T) {
	a := newFake()
	s := NewSurface(a, nil, nil, 20*time.Second, nil)

	if c := s.CurrentContext(t0); !c.IsStale || c.Result != nil {
		t.Errorf("expected stale empty context before any analysis, got %+v", c)
	}

	a.result = &analyzer.Result{Summary: "Writing an email", Application: "Gmail", AnalyzedAt: t0}
	a.cache.Upsert(analyzer.KeyInfo{Kind: analyzer.KindOTP, Text: "847291"}, t0)

	testCases := []struct {
		name  string
		at    time.Time
		stale bool
	}{
		{"just analyzed", t0, false},
		{"at the limit", t0.Add(20 * time.Second), false},
		{"past the limit", t0.Add(21 * time.Second), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := s.CurrentContext(tc.at)
			if c.IsStale != tc.stale {
				t.Errorf("IsStale = %v, want %v", c.IsStale, tc.stale)
			}
			if c.Result == nil || c.Result.Summary != "Writing an email" {
				t.Errorf("unexpected result %+v", c.Result)
			}
			if len(c.KeyInfo) != 1 {
				t.Errorf("expected key info, got %+v", c.KeyInfo)
			}
			if !c.LastSuccess.Equal(t0) {
				t.Errorf("unexpected last success %v", c.LastSuccess)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	a := newFake()
	a.result = &analyzer.Result{Summary: "Coding", Application: "VS Code", AnalyzedAt: t0, Provider: "groq"}
	a.cache.Upsert(analyzer.KeyInfo{Kind: analyzer.KindURL, Text: "example.com"}, t0)

	buf := buffer.New(time.Minute, func() time.Time { return t0 })
	_ = buf.Add(t0, []ocr.Fragment{{Text: "func main()", Confidence: 0.8}})

	s := NewSurface(a, buf, readyExtractor{}, 20*time.Second, func() time.Time { return t0.Add(5 * time.Second) })
	h := Handler(s)

	t.Run("context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/context", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var c Context
		if err := json.NewDecoder(w.Body).Decode(&c); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if c.Result == nil || c.Result.Provider != "groq" || c.IsStale {
			t.Errorf("unexpected context %+v", c)
		}
		if c.Extractor != ocr.StateReady || c.Buffer.Entries != 1 {
			t.Errorf("unexpected pipeline state extractor=%s buffer=%+v", c.Extractor, c.Buffer)
		}
		if len(c.KeyInfo) != 1 || c.KeyInfo[0].Kind != analyzer.KindURL {
			t.Errorf("unexpected key info %+v", c.KeyInfo)
		}
		if c.Analysis.Cycles != 3 {
			t.Errorf("unexpected analysis stats %+v", c.Analysis)
		}
	})

	t.Run("healthz", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
	})

	t.Run("analyze", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze", nil))
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", w.Code)
		}
		if a.triggers != 1 {
			t.Errorf("expected one trigger, got %d", a.triggers)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analyze", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
	})
}

func TestClient(t *testing.T) {
	a := newFake()
	a.result = &analyzer.Result{Summary: "Paying a bill", AnalyzedAt: t0}
	s := NewSurface(a, nil, readyExtractor{}, time.Minute, func() time.Time { return t0 })

	srv := httptest.NewServer(Handler(s))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.Context(context.Background())
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if got.Result.Summary != "Paying a bill" || got.Extractor != ocr.StateReady {
		t.Errorf("unexpected context %+v", got)
	}

	queued, err := c.Analyze(context.Background())
	if err != nil || !queued {
		t.Errorf("Analyze = %v, %v", queued, err)
	}
	queued, err = c.Analyze(context.Background())
	if err != nil || queued {
		t.Errorf("second Analyze = %v, %v; want not queued", queued, err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	if _, err := NewClient(addr).Context(context.Background()); err == nil {
		t.Error("expected error for a closed server")
	}
}

func TestServer_ShutsDownOnCancel(t *testing.T) {
	s := NewSurface(newFake(), nil, nil, time.Minute, nil)
	srv := NewServer("127.0.0.1:0", s, observe.New(io.Discard, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
