package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/rewind/internal/observe"
)

func TestMailbox_DropOldest(t *testing.T) {
	m := NewMailbox()

	if m.Publish(&Frame{Seq: 1}) {
		t.Error("first publish should not drop")
	}
	if !m.Publish(&Frame{Seq: 2}) {
		t.Error("second publish should report a drop")
	}
	m.Publish(&Frame{Seq: 3})

	f, ok := m.Next(context.Background())
	if !ok || f.Seq != 3 {
		t.Fatalf("Next = %v, %v; want newest frame 3", f, ok)
	}
	if m.Pending() {
		t.Error("slot should be empty after consume")
	}

	st := m.Stats()
	if st.Published != 3 || st.Dropped != 2 || st.Consumed != 1 || st.ConsecutiveDrops != 0 || st.LastConsumedSeq != 3 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestMailbox_NextBlocksUntilPublish(t *testing.T) {
	m := NewMailbox()
	got := make(chan uint64, 1)

	go func() {
		f, ok := m.Next(context.Background())
		if ok {
			got <- f.Seq
		}
	}()

	time.Sleep(20 * time.Millisecond)
	m.Publish(&Frame{Seq: 7})

	select {
	case seq := <-got:
		if seq != 7 {
			t.Errorf("got seq %d, want 7", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake on publish")
	}
}

func TestMailbox_CloseAndCancelUnblock(t *testing.T) {
	t.Run("close", func(t *testing.T) {
		m := NewMailbox()
		done := make(chan bool, 1)
		go func() {
			_, ok := m.Next(context.Background())
			done <- ok
		}()
		time.Sleep(10 * time.Millisecond)
		m.Close()
		m.Close()
		if ok := <-done; ok {
			t.Error("Next should report !ok after Close")
		}
		if m.Publish(&Frame{}) {
			t.Error("publish after close should be a no-op")
		}
	})

	t.Run("context", func(t *testing.T) {
		m := NewMailbox()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan bool, 1)
		go func() {
			_, ok := m.Next(ctx)
			done <- ok
		}()
		time.Sleep(10 * time.Millisecond)
		cancel()
		select {
		case ok := <-done:
			if ok {
				t.Error("Next should report !ok after cancel")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Next did not wake on cancel")
		}
	})
}

func TestMailbox_NeverMoreThanOnePending(t *testing.T) {
	m := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var consumed uint64
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			if _, ok := m.Next(ctx); !ok {
				return
			}
			consumed++
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 1; i <= 300; i++ {
		m.Publish(&Frame{Seq: uint64(i)})
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	st := m.Stats()
	if st.Published != 300 {
		t.Fatalf("Published = %d", st.Published)
	}
	pending := uint64(0)
	if m.Pending() {
		pending = 1
	}
	if st.Consumed+st.Dropped+pending != st.Published {
		t.Errorf("consumed %d + dropped %d + pending %d != published %d", st.Consumed, st.Dropped, pending, st.Published)
	}
	if consumed != st.Consumed {
		t.Errorf("consumer saw %d frames, stats say %d", consumed, st.Consumed)
	}
}

type fakeGrabber struct {
	mu    sync.Mutex
	calls int
	fail  bool
	img   image.Image
}

func (g *fakeGrabber) Grab(ctx context.Context) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail {
		return nil, errors.New("display unavailable")
	}
	return g.img, nil
}

func TestSource_TickPublishesAndDownscales(t *testing.T) {
	g := &fakeGrabber{img: image.NewRGBA(image.Rect(0, 0, 3840, 2160))}
	m := NewMailbox()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var drops []uint64

	src := NewSource(g, m, time.Second/3, 1920, func() time.Time { return now }, observe.New(&bytes.Buffer{}, false))
	src.OnDrop = func(seq uint64) { drops = append(drops, seq) }

	src.Tick(context.Background())
	src.Tick(context.Background())

	f, ok := m.Next(context.Background())
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.Seq != 2 || f.Width != 1920 || f.Height != 1080 || !f.CapturedAt.Equal(now) {
		t.Errorf("unexpected frame %+v", f)
	}
	if len(drops) != 1 || drops[0] != 2 {
		t.Errorf("drops = %v, want [2]", drops)
	}
}

func TestSource_GrabFailureSkipsTick(t *testing.T) {
	g := &fakeGrabber{fail: true}
	m := NewMailbox()
	var errs int

	src := NewSource(g, m, 10*time.Millisecond, 1920, nil, observe.New(&bytes.Buffer{}, false))
	src.OnError = func(error) { errs++ }
	src.Tick(context.Background())

	if m.Pending() {
		t.Error("failed grab should not publish")
	}
	if errs != 1 || src.Errors() != 1 {
		t.Errorf("errors = %d / %d, want 1", errs, src.Errors())
	}
}

func TestSource_RunStopsOnCancel(t *testing.T) {
	g := &fakeGrabber{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}
	m := NewMailbox()
	src := NewSource(g, m, 5*time.Millisecond, 0, nil, observe.New(&bytes.Buffer{}, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	if _, ok := m.Next(ctx); !ok {
		t.Fatal("expected at least one frame")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDownscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1000, 4000))
	src.Set(0, 0, color.White)

	tests := []struct {
		name   string
		img    image.Image
		max    int
		wantW  int
		wantH  int
		sameAs bool
	}{
		{"portrait", src, 1920, 480, 1920, false},
		{"within bounds", image.NewRGBA(image.Rect(0, 0, 800, 600)), 1920, 800, 600, true},
		{"disabled", src, 0, 1000, 4000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Downscale(tt.img, tt.max)
			b := out.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
			if tt.sameAs && out != tt.img {
				t.Error("expected the original image back")
			}
		})
	}
}

func TestDefaultCommand(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}

	if cmd := DefaultCommand("linux", env(map[string]string{"WAYLAND_DISPLAY": "wayland-0"})); len(cmd) == 0 || cmd[0] != "grim" {
		t.Errorf("wayland: got %v", cmd)
	}
	if cmd := DefaultCommand("linux", env(map[string]string{"DISPLAY": ":0"})); len(cmd) == 0 || cmd[0] != "import" {
		t.Errorf("x11: got %v", cmd)
	}
	if cmd := DefaultCommand("darwin", env(nil)); len(cmd) == 0 || cmd[0] != "screencapture" {
		t.Errorf("darwin: got %v", cmd)
	}
	if cmd := DefaultCommand("linux", env(nil)); cmd != nil {
		t.Errorf("headless: got %v", cmd)
	}
	if _, err := NewCommandGrabber([]string{"true"}); err != nil {
		t.Errorf("explicit command: %v", err)
	}
}
