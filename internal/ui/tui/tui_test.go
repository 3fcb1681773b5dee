package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/rewind/internal/analyzer"
	"github.com/felixgeelhaar/rewind/internal/buffer"
	"github.com/felixgeelhaar/rewind/internal/query"
	"github.com/felixgeelhaar/rewind/internal/ui"
)

var _ ui.UI = (*TUI)(nil)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	ctx       query.Context
	triggered int
}

func (f *fakeSource) Now() time.Time { return t0 }

func (f *fakeSource) CurrentContext(now time.Time) query.Context { return f.ctx }

func (f *fakeSource) Trigger() bool {
	f.triggered++
	return true
}

func ready(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestModel_TickRefreshesContext(t *testing.T) {
	src := &fakeSource{ctx: query.Context{
		Result:      &analyzer.Result{Summary: "Signing in with a verification code", Application: "Gmail"},
		KeyInfo:     []analyzer.KeyInfo{{Kind: analyzer.KindOTP, Text: "847291", Context: "login code"}},
		LastSuccess: t0,
	}}
	m := ready(t, NewModel("rewind", src, time.Second, time.Minute))

	next, cmd := m.Update(TickMsg(t0))
	if cmd == nil {
		t.Error("tick should schedule the next refresh")
	}
	m = next.(Model)

	view := m.View()
	for _, want := range []string{"Signing in with a verification code", "Gmail", "847291", "login code"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "stale") {
		t.Error("fresh context rendered as stale")
	}
}

func TestModel_StaleAndEmpty(t *testing.T) {
	src := &fakeSource{ctx: query.Context{IsStale: true}}
	m := ready(t, NewModel("rewind", src, time.Second, time.Minute))
	next, _ := m.Update(TickMsg(t0))
	view := next.(Model).View()

	if !strings.Contains(view, "waiting for first analysis") {
		t.Errorf("expected placeholder activity:\n%s", view)
	}
	if !strings.Contains(view, "stale") {
		t.Errorf("expected stale marker:\n%s", view)
	}
}

func TestModel_Keys(t *testing.T) {
	src := &fakeSource{}
	m := ready(t, NewModel("rewind", src, time.Second, time.Minute))

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	m = next.(Model)
	if src.triggered != 1 || m.Status != "Analysis requested" {
		t.Errorf("analyze key: triggered=%d status=%q", src.triggered, m.Status)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(Model).Quitting || cmd == nil {
		t.Error("q should quit")
	}
}

func TestModel_LogAndStatus(t *testing.T) {
	m := ready(t, NewModel("rewind", nil, 0, time.Minute))
	next, _ := m.Update(StatusMsg("Watching"))
	next, _ = next.(Model).Update(LogMsg("analysis_updated"))
	m = next.(Model)

	if m.Status != "Watching" || len(m.Log) != 1 {
		t.Errorf("unexpected model status=%q log=%v", m.Status, m.Log)
	}
	if !strings.Contains(m.View(), "analysis_updated") {
		t.Error("log line not rendered")
	}
}

func TestModel_NotReady(t *testing.T) {
	m := NewModel("rewind", nil, time.Second, time.Minute)
	if !strings.Contains(m.View(), "Initializing") {
		t.Error("expected initializing view before the first resize")
	}
}

func TestModel_Coverage(t *testing.T) {
	m := NewModel("rewind", nil, time.Second, time.Minute)
	m.Context.Buffer = buffer.Stats{Entries: 31, Oldest: t0, Newest: t0.Add(30 * time.Second)}
	if got := m.coverage(); got != 0.5 {
		t.Errorf("coverage = %v, want 0.5", got)
	}
	m.Context.Buffer.Newest = t0.Add(2 * time.Minute)
	if got := m.coverage(); got != 1 {
		t.Errorf("coverage = %v, want 1", got)
	}
}
