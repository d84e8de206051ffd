// Package render schedules cancellable thumbnail rendering for an imposition
// plan. Every pass is stamped with a generation; results of a pass whose
// generation is no longer current are discarded at commit time.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/imposition"
	"github.com/local/printpreview/internal/metrics"
	"github.com/local/printpreview/internal/viewport"
)

var (
	// ErrStale ends a pass whose generation was superseded.
	ErrStale = errors.New("render pass superseded")
	// ErrRasterizationFailed marks a slot whose page could not be rendered.
	ErrRasterizationFailed = errors.New("rasterization failed")
)

// Rasterizer renders pages of the loaded document. Pages are 1-based.
type Rasterizer interface {
	PageAspect(ctx context.Context, page int) (viewport.Size, error)
	RenderPage(ctx context.Context, page int, scale float64) (image.Image, error)
}

type SlotState string

const (
	SlotPending     SlotState = "pending"
	SlotRendered    SlotState = "rendered"
	SlotFailed      SlotState = "failed"
	SlotPlaceholder SlotState = "placeholder"
)

// SlotThumb is one cell of a sheet thumbnail.
type SlotThumb struct {
	Page  int              `json:"page"`
	State SlotState        `json:"state"`
	Fit   viewport.SlotFit `json:"fit"`
	Err   string           `json:"error,omitempty"`
	Image image.Image      `json:"-"`
}

// SheetThumb is the rendered preview of one planned sheet.
type SheetThumb struct {
	Index     int                `json:"index"`
	Layout    imposition.Layout  `json:"layout"`
	Thumbnail viewport.Thumbnail `json:"thumbnail"`
	Slots     []SlotThumb        `json:"slots"`
}

// Board is a snapshot of all sheet thumbnails for one generation.
type Board struct {
	Generation uint64       `json:"generation"`
	Sheets     []SheetThumb `json:"sheets"`
}

// Event is emitted for every slot committed to the board.
type Event struct {
	Generation uint64    `json:"generation"`
	Sheet      int       `json:"sheet"`
	Slot       int       `json:"slot"`
	Page       int       `json:"page"`
	State      SlotState `json:"state"`
}

type Observer func(Event)

// Scheduler owns the render generation and the board it guards.
type Scheduler struct {
	mu       sync.Mutex
	gen      uint64
	raster   Rasterizer
	board    []SheetThumb
	aspects  map[int]viewport.Size
	observer Observer
}

func NewScheduler(r Rasterizer) *Scheduler {
	return &Scheduler{raster: r, aspects: make(map[int]viewport.Size)}
}

// SetObserver installs fn for subsequent commits. Nil disables it.
func (s *Scheduler) SetObserver(fn Observer) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Generation returns the live generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Invalidate supersedes any running pass and clears the board.
func (s *Scheduler) Invalidate() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.board = nil
	return s.gen
}

// Reset switches to a new document: the aspect cache is dropped along with
// the board. r may be nil when no document is loaded.
func (s *Scheduler) Reset(r Rasterizer) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.raster = r
	s.board = nil
	s.aspects = make(map[int]viewport.Size)
	return s.gen
}

// Start opens a new generation and replaces the board with pending slots for
// plan. Empty slots are final placeholders from the start.
func (s *Scheduler) Start(plan *imposition.Plan, thumb viewport.Thumbnail) *Pass {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++

	board := make([]SheetThumb, 0, len(plan.Sheets))
	for _, sh := range plan.Sheets {
		st := SheetThumb{
			Index:     sh.Index,
			Layout:    plan.Layout,
			Thumbnail: thumb,
			Slots:     make([]SlotThumb, len(sh.Slots)),
		}
		for i, sl := range sh.Slots {
			if sl.Empty() {
				st.Slots[i] = SlotThumb{State: SlotPlaceholder}
			} else {
				st.Slots[i] = SlotThumb{Page: sl.Page, State: SlotPending}
			}
		}
		board = append(board, st)
	}
	s.board = board
	metrics.PassStarted()

	return &Pass{
		s:      s,
		gen:    s.gen,
		raster: s.raster,
		plan:   plan,
		thumb:  thumb,
	}
}

// Snapshot deep-copies the board. Images are shared; they are never mutated.
func (s *Scheduler) Snapshot() Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Board{Generation: s.gen, Sheets: make([]SheetThumb, len(s.board))}
	for i, sh := range s.board {
		cp := sh
		cp.Slots = append([]SlotThumb(nil), sh.Slots...)
		out.Sheets[i] = cp
	}
	return out
}

// Slot returns one slot of a 1-based sheet.
func (s *Scheduler) Slot(sheet, idx int) (SlotThumb, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sheet < 1 || sheet > len(s.board) {
		return SlotThumb{}, false
	}
	slots := s.board[sheet-1].Slots
	if idx < 0 || idx >= len(slots) {
		return SlotThumb{}, false
	}
	return slots[idx], true
}

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Scheduler) cachedAspect(page int) (viewport.Size, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aspects[page]
	return a, ok
}

// storeAspect only caches for the live generation so a pass over a replaced
// document cannot leak its aspects into the new cache.
func (s *Scheduler) storeAspect(gen uint64, page int, a viewport.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.aspects[page] = a
	}
}

// commit writes a slot result if gen is still live.
func (s *Scheduler) commit(gen uint64, sheet, idx int, slot SlotThumb) bool {
	s.mu.Lock()
	if s.gen != gen || sheet >= len(s.board) || idx >= len(s.board[sheet].Slots) {
		s.mu.Unlock()
		return false
	}
	s.board[sheet].Slots[idx] = slot
	obs := s.observer
	index := s.board[sheet].Index
	s.mu.Unlock()

	if obs != nil {
		obs(Event{Generation: gen, Sheet: index, Slot: idx, Page: slot.Page, State: slot.State})
	}
	return true
}

// Pass renders one plan under a fixed generation.
type Pass struct {
	s      *Scheduler
	gen    uint64
	raster Rasterizer
	plan   *imposition.Plan
	thumb  viewport.Thumbnail
}

func (p *Pass) Generation() uint64 { return p.gen }

// Stale reports whether a newer generation has started.
func (p *Pass) Stale() bool { return !p.s.current(p.gen) }

// Run renders sheets in order, slots in order. It returns ErrStale as soon as
// a commit is refused, ctx.Err() if ctx ends, and nil once every slot has been
// committed. A failing page marks its slot failed and the pass continues.
func (p *Pass) Run(ctx context.Context) error {
	logger := log.With().Uint64("generation", p.gen).Logger()
	if p.raster == nil {
		if p.Stale() {
			metrics.PassStale()
			return ErrStale
		}
		return fmt.Errorf("%w: no document", ErrRasterizationFailed)
	}

	cell := viewport.CellBudget(p.thumb, p.plan.Layout)
	start := time.Now()

	for si, sheet := range p.plan.Sheets {
		for idx, sl := range sheet.Slots {
			if sl.Empty() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.Stale() {
				metrics.PassStale()
				logger.Debug().Int("sheet", sheet.Index).Msg("render pass superseded")
				return ErrStale
			}

			t0 := time.Now()
			slot := p.renderSlot(ctx, sl.Page, cell)
			if !p.s.commit(p.gen, si, idx, slot) {
				metrics.ObserveSlot("discarded", 0)
				metrics.PassStale()
				logger.Debug().Int("sheet", sheet.Index).Int("page", sl.Page).Msg("discarding stale render result")
				return ErrStale
			}
			metrics.ObserveSlot(string(slot.State), time.Since(t0))
			if slot.State == SlotFailed {
				logger.Warn().Int("sheet", sheet.Index).Int("page", sl.Page).Str("error", slot.Err).Msg("page render failed")
			}
		}
	}

	metrics.PassCompleted()
	logger.Debug().
		Int("sheets", len(p.plan.Sheets)).
		Dur("elapsed", time.Since(start)).
		Msg("render pass completed")
	return nil
}

func (p *Pass) renderSlot(ctx context.Context, page int, cell viewport.Size) SlotThumb {
	failed := func(err error) SlotThumb {
		return SlotThumb{
			Page:  page,
			State: SlotFailed,
			Err:   fmt.Errorf("%w: page %d: %v", ErrRasterizationFailed, page, err).Error(),
		}
	}

	aspect, ok := p.s.cachedAspect(page)
	if !ok {
		a, err := p.raster.PageAspect(ctx, page)
		if err != nil {
			return failed(err)
		}
		aspect = a
		p.s.storeAspect(p.gen, page, aspect)
	}

	fit := viewport.FitSlot(aspect, cell, p.thumb.DPR)
	if fit.RenderScale <= 0 {
		return failed(fmt.Errorf("invalid page size %vx%v", aspect.Width, aspect.Height))
	}
	img, err := p.raster.RenderPage(ctx, page, fit.RenderScale)
	if err != nil {
		return failed(err)
	}
	return SlotThumb{Page: page, State: SlotRendered, Fit: fit, Image: img}
}
