package render

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/local/printpreview/internal/imposition"
	"github.com/local/printpreview/internal/pagerange"
	"github.com/local/printpreview/internal/viewport"
)

// fakeRaster renders gray images; pages listed in fail return an error and
// pages listed in gates block until their channel is closed.
type fakeRaster struct {
	mu      sync.Mutex
	fail    map[int]bool
	gates   map[int]chan struct{}
	entered chan int
	aspects atomic.Int32
	renders atomic.Int32
}

func newFake() *fakeRaster {
	return &fakeRaster{fail: map[int]bool{}, gates: map[int]chan struct{}{}, entered: make(chan int, 64)}
}

func (f *fakeRaster) gate(page int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[page] = ch
	return ch
}

func (f *fakeRaster) PageAspect(ctx context.Context, page int) (viewport.Size, error) {
	f.aspects.Add(1)
	return viewport.Size{Width: 612, Height: 792}, nil
}

func (f *fakeRaster) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	f.renders.Add(1)
	f.mu.Lock()
	gate := f.gates[page]
	fail := f.fail[page]
	f.mu.Unlock()
	f.entered <- page
	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("boom")
	}
	return image.NewGray(image.Rect(0, 0, int(612*scale), int(792*scale))), nil
}

func buildPlan(t *testing.T, pages, perSheet int) *imposition.Plan {
	t.Helper()
	cfg := imposition.DefaultConfig()
	cfg.PagesPerSheet = perSheet
	plan, err := imposition.Build(pagerange.All(pages), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func thumb() viewport.Thumbnail {
	return viewport.SizeThumbnail(viewport.SheetSize(imposition.Portrait), viewport.Size{Width: 400, Height: 600}, 1, viewport.ModeSingle)
}

func TestStartBuildsPendingBoard(t *testing.T) {
	s := NewScheduler(newFake())
	pass := s.Start(buildPlan(t, 3, 2), thumb())

	board := s.Snapshot()
	if board.Generation != pass.Generation() || len(board.Sheets) != 2 {
		t.Fatalf("board = %+v", board)
	}
	want := []SlotState{SlotPending, SlotPending, SlotPending, SlotPlaceholder}
	var got []SlotState
	for _, sh := range board.Sheets {
		for _, sl := range sh.Slots {
			got = append(got, sl.State)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot states = %v, want %v", got, want)
		}
	}
}

func TestRunRendersEverySlot(t *testing.T) {
	f := newFake()
	s := NewScheduler(f)
	var events atomic.Int32
	s.SetObserver(func(Event) { events.Add(1) })

	pass := s.Start(buildPlan(t, 5, 4), thumb())
	if err := pass.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for sheet := 1; sheet <= 2; sheet++ {
		for idx := 0; idx < 4; idx++ {
			sl, ok := s.Slot(sheet, idx)
			if !ok {
				t.Fatalf("slot %d/%d missing", sheet, idx)
			}
			if sl.Page == 0 {
				if sl.State != SlotPlaceholder {
					t.Errorf("empty slot %d/%d state %s", sheet, idx, sl.State)
				}
				continue
			}
			if sl.State != SlotRendered || sl.Image == nil {
				t.Errorf("slot %d/%d = %+v", sheet, idx, sl)
			}
		}
	}
	if events.Load() != 5 {
		t.Errorf("observer saw %d events, want 5", events.Load())
	}
}

func TestFailedSlotDoesNotStopPass(t *testing.T) {
	f := newFake()
	f.fail[2] = true
	s := NewScheduler(f)

	if err := s.Start(buildPlan(t, 3, 1), thumb()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	failed, _ := s.Slot(2, 0)
	if failed.State != SlotFailed || failed.Err == "" {
		t.Fatalf("page 2 slot = %+v", failed)
	}
	last, _ := s.Slot(3, 0)
	if last.State != SlotRendered {
		t.Fatalf("page 3 slot = %+v", last)
	}
}

func TestStalePassNeverWrites(t *testing.T) {
	f := newFake()
	gate := f.gate(1)
	s := NewScheduler(f)

	old := s.Start(buildPlan(t, 2, 1), thumb())
	done := make(chan error, 1)
	go func() { done <- old.Run(context.Background()) }()

	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("old pass never reached the rasterizer")
	}

	// supersede while the old pass is mid-render
	f.mu.Lock()
	delete(f.gates, 1)
	f.mu.Unlock()
	current := s.Start(buildPlan(t, 4, 4), thumb())
	if err := current.Run(context.Background()); err != nil {
		t.Fatalf("current pass: %v", err)
	}
	close(gate)

	select {
	case err := <-done:
		if !errors.Is(err, ErrStale) {
			t.Fatalf("old pass returned %v, want ErrStale", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("old pass did not finish")
	}

	board := s.Snapshot()
	if board.Generation != current.Generation() || len(board.Sheets) != 1 {
		t.Fatalf("board replaced by stale pass: %+v", board)
	}
	for i, sl := range board.Sheets[0].Slots {
		if sl.State != SlotRendered || sl.Page != i+1 {
			t.Errorf("slot %d = %+v", i, sl)
		}
	}
}

func TestInvalidateClearsBoard(t *testing.T) {
	s := NewScheduler(newFake())
	pass := s.Start(buildPlan(t, 2, 1), thumb())
	gen := s.Invalidate()
	if gen <= pass.Generation() {
		t.Fatal("generation must increase")
	}
	if len(s.Snapshot().Sheets) != 0 {
		t.Fatal("board not cleared")
	}
	if !errors.Is(pass.Run(context.Background()), ErrStale) {
		t.Fatal("invalidated pass should be stale")
	}
}

func TestAspectCache(t *testing.T) {
	f := newFake()
	s := NewScheduler(f)
	plan := buildPlan(t, 3, 1)

	_ = s.Start(plan, thumb()).Run(context.Background())
	_ = s.Start(plan, thumb()).Run(context.Background())
	if n := f.aspects.Load(); n != 3 {
		t.Fatalf("PageAspect called %d times, want 3", n)
	}

	s.Reset(f)
	_ = s.Start(plan, thumb()).Run(context.Background())
	if n := f.aspects.Load(); n != 6 {
		t.Fatalf("after Reset PageAspect called %d times, want 6", n)
	}
}

func TestGenerationsStrictlyIncrease(t *testing.T) {
	s := NewScheduler(newFake())
	plan := buildPlan(t, 1, 1)
	var last uint64
	for i := 0; i < 5; i++ {
		g := s.Start(plan, thumb()).Generation()
		if g <= last {
			t.Fatalf("generation %d after %d", g, last)
		}
		last = g
	}
}
