// Package preview holds a print preview session: the user's selection and
// settings as sources of truth, and everything derived from them.
package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/printpreview/internal/consumption"
	"github.com/local/printpreview/internal/imposition"
	"github.com/local/printpreview/internal/jobs"
	"github.com/local/printpreview/internal/logger"
	"github.com/local/printpreview/internal/metrics"
	"github.com/local/printpreview/internal/navigator"
	"github.com/local/printpreview/internal/pagerange"
	"github.com/local/printpreview/internal/render"
	"github.com/local/printpreview/internal/viewport"
)

var (
	ErrOrientationLocked = errors.New("orientation is fixed to landscape for 2 pages per sheet")
	ErrSessionClosed     = errors.New("session closed")
)

// Document is a loaded file that can be rasterized.
type Document interface {
	render.Rasterizer
	PageCount() int
	Close() error
}

// Submitter accepts a finished job description.
type Submitter interface {
	Submit(ctx context.Context, sub jobs.Submission, sheets int) (jobs.Receipt, error)
}

// Options tunes a session. Zero values fall back to defaults.
type Options struct {
	ResizeDebounce time.Duration
	Breakpoint     float64
	SuppressWindow time.Duration
}

const DefaultResizeDebounce = 120 * time.Millisecond

func (o Options) withDefaults() Options {
	if o.ResizeDebounce <= 0 {
		o.ResizeDebounce = DefaultResizeDebounce
	}
	if o.Breakpoint <= 0 {
		o.Breakpoint = viewport.DefaultBreakpoint
	}
	if o.SuppressWindow <= 0 {
		o.SuppressWindow = navigator.DefaultSuppressWindow
	}
	return o
}

// CenterRequest asks the client to bring a sheet into view. The client
// acknowledges it with Release(Seq) once the scroll settles.
type CenterRequest struct {
	Sheet  int    `json:"sheet"`
	Smooth bool   `json:"smooth"`
	Seq    uint64 `json:"seq"`
}

// Session is safe for concurrent use. Mutations are serialized and recompute
// derived state before returning; render passes run in the background.
type Session struct {
	id   string
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	closed     bool
	doc        Document
	docName    string
	docPath    string
	expression string
	invalid    error
	selection  pagerange.Selection
	config     imposition.Config
	env        viewport.Environment
	plan       *imposition.Plan
	estimate   consumption.Estimate
	hasEst     bool
	thumb      viewport.Thumbnail
	center     *CenterRequest

	pendingEnv  *viewport.Environment
	resizeTimer *time.Timer

	nav    *navigator.Navigator
	sched  *render.Scheduler
	events hub

	ctx    context.Context
	cancel context.CancelFunc
	passes sync.WaitGroup
}

// NewSession creates an idle session with default settings.
func NewSession(id string, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		opts:   opts,
		log:    logger.Session(id),
		config: imposition.DefaultConfig(),
		env: viewport.Environment{
			Window: viewport.Size{Width: 1280, Height: 800},
			DPR:    1,
			Mode:   viewport.ModeSingle,
		},
		sched:  render.NewScheduler(nil),
		ctx:    ctx,
		cancel: cancel,
	}
	// The navigator only calls back synchronously from methods invoked with
	// s.mu held, so center is written under the session lock.
	s.nav = navigator.New(func(sheet int, smooth bool, seq uint64) {
		s.center = &CenterRequest{Sheet: sheet, Smooth: smooth, Seq: seq}
	}, navigator.WithSuppressWindow(opts.SuppressWindow))
	s.sched.SetObserver(s.events.publish)
	return s
}

func (s *Session) ID() string { return s.id }


func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	return nil
}

// LoadDocument replaces the current document. Settings are kept, the
// selection resets to all pages and navigation restarts at sheet 1.
func (s *Session) LoadDocument(doc Document, name, path string) error {
	if doc == nil || doc.PageCount() <= 0 {
		return pagerange.ErrNoDocumentLoaded
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	old := s.doc
	s.doc, s.docName, s.docPath = doc, name, path
	s.expression, s.invalid = "", nil
	s.selection = pagerange.All(doc.PageCount())
	s.sched.Reset(doc)
	s.nav.SetTotal(0)
	s.recompute()

	s.log.Info().Str("file", name).Int("pages", doc.PageCount()).Msg("document loaded")
	if old != nil {
		s.closeDoc(old)
	}
	return nil
}

// CloseDocument drops the document and returns the session to idle.
func (s *Session) CloseDocument() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.unloadLocked()
	return nil
}

func (s *Session) unloadLocked() {
	old := s.doc
	s.doc, s.docName, s.docPath = nil, "", ""
	s.expression, s.invalid = "", nil
	s.selection = pagerange.Selection{}
	s.sched.Reset(nil)
	s.recompute()
	if old != nil {
		s.closeDoc(old)
	}
}

func (s *Session) closeDoc(d Document) {
	if err := d.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close document")
	}
}

// SetExpression applies a page-range expression. An invalid expression is
// remembered for display but the previous selection stays in force.
func (s *Session) SetExpression(expr string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.doc == nil {
		return pagerange.ErrNoDocumentLoaded
	}

	sel, err := pagerange.Parse(expr, s.doc.PageCount())
	s.expression = expr
	if err != nil {
		s.reject(err)
		return err
	}
	s.invalid = nil
	s.selection = sel
	s.recompute()
	return nil
}

// TogglePage adds or removes one page. Removing the last selected page is
// refused and leaves the selection intact.
func (s *Session) TogglePage(page int) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.doc == nil {
		return pagerange.ErrNoDocumentLoaded
	}

	sel, err := pagerange.Toggle(s.selection.Expression(), s.doc.PageCount(), page)
	if err != nil {
		s.reject(err)
		return err
	}
	s.expression = sel.Expression()
	s.invalid = nil
	s.selection = sel
	s.recompute()
	return nil
}

func (s *Session) reject(err error) {
	s.invalid = err
	var pe *pagerange.ParseError
	if errors.As(err, &pe) {
		metrics.IncSelectionError(string(pe.Kind))
	}
	s.log.Debug().Err(err).Str("expression", s.expression).Msg("selection rejected")
}

// SetPagesPerSheet changes the imposition and restarts at sheet 1.
func (s *Session) SetPagesPerSheet(n int) error {
	return s.ApplySettings(Settings{PagesPerSheet: &n})
}

// SetOrientation stores the requested orientation. While 2-up forces
// landscape the request is refused and the stored value kept.
func (s *Session) SetOrientation(o imposition.Orientation) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.config.OrientationLocked() {
		return ErrOrientationLocked
	}
	next := s.config
	next.Orientation = o
	return s.commitLocked(next)
}

func (s *Session) SetDuplex(duplex bool) error {
	return s.ApplySettings(Settings{Duplex: &duplex})
}

// SetCopies only affects the estimate; the plan and thumbnails are unchanged.
func (s *Session) SetCopies(copies int) error {
	return s.ApplySettings(Settings{Copies: &copies})
}

// Settings is a partial update of the imposition config.
type Settings struct {
	PagesPerSheet *int                    `json:"pages_per_sheet,omitempty"`
	Orientation   *imposition.Orientation `json:"orientation,omitempty"`
	Duplex        *bool                   `json:"duplex,omitempty"`
	Copies        *int                    `json:"copies,omitempty"`
}

// ApplySettings merges the present fields into the current config and commits
// them together or not at all. An orientation different from the stored one
// is refused when the resulting config is 2-up, so {portrait, 1-up} sent
// while 2-up succeeds and {landscape, 2-up} sent while portrait does not.
func (s *Session) ApplySettings(in Settings) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	next := s.config
	if in.PagesPerSheet != nil {
		next.PagesPerSheet = *in.PagesPerSheet
	}
	if in.Duplex != nil {
		next.Duplex = *in.Duplex
	}
	if in.Copies != nil {
		next.Copies = *in.Copies
	}
	if in.Orientation != nil {
		next.Orientation = *in.Orientation
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Orientation != s.config.Orientation && next.OrientationLocked() {
		return ErrOrientationLocked
	}
	return s.commitLocked(next)
}

// commitLocked installs next as the config. A copies-only change updates the
// estimate without a new render pass; a pages-per-sheet change restarts at
// sheet 1. Caller holds s.mu.
func (s *Session) commitLocked(next imposition.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if next == s.config {
		return nil
	}
	prev := s.config
	s.config = next

	layout := prev
	layout.Copies = next.Copies
	if layout == next {
		s.estimate, s.hasEst = consumption.Calculate(s.plan, s.config.Duplex, s.config.Copies)
		return nil
	}
	reset := prev.PagesPerSheet != next.PagesPerSheet
	if reset {
		s.nav.Reset()
	}
	s.recompute()
	if reset {
		s.nav.Recenter(false)
	}
	return nil
}

// Resize records a viewport change and applies it once no further change
// arrives for the debounce window.
func (s *Session) Resize(env viewport.Environment) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.pendingEnv = &env
	if s.resizeTimer == nil {
		s.resizeTimer = time.AfterFunc(s.opts.ResizeDebounce, s.flushResize)
	} else {
		s.resizeTimer.Reset(s.opts.ResizeDebounce)
	}
	return nil
}

func (s *Session) flushResize() {
	if s.lock() != nil {
		return
	}
	defer s.mu.Unlock()
	if s.pendingEnv == nil {
		return
	}
	env := *s.pendingEnv
	s.pendingEnv = nil
	s.applyEnvLocked(env)
}

// ApplyEnvironment applies a viewport change immediately.
func (s *Session) ApplyEnvironment(env viewport.Environment) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.resizeTimer != nil {
		s.resizeTimer.Stop()
	}
	s.pendingEnv = nil
	s.applyEnvLocked(env)
	return nil
}

func (s *Session) applyEnvLocked(env viewport.Environment) {
	if env.Mode == "" {
		env.Mode = viewport.ModeForWidth(env.Window.Width, s.opts.Breakpoint)
	}
	if env.DPR <= 0 {
		env.DPR = 1
	}
	if env == s.env {
		return
	}
	s.env = env
	s.recompute()
	s.nav.Recenter(false)
}

// GoTo moves to sheet n (clamped) and requests smooth centering.
func (s *Session) GoTo(n int) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.nav.GoTo(n), nil
}

func (s *Session) Next() (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.nav.GoTo(s.nav.Current() + 1), nil
}

func (s *Session) Previous() (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.nav.GoTo(s.nav.Current() - 1), nil
}

// OnScroll reconciles the current sheet with the client's scroll position.
func (s *Session) OnScroll(sheets []navigator.SheetExtent, view navigator.Extent) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.nav.OnScroll(sheets, view), nil
}

// Release acknowledges that the centering request seq has settled.
func (s *Session) Release(seq uint64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.nav.Release(seq)
	if s.center != nil && s.center.Seq == seq {
		s.center = nil
	}
	return nil
}

// recompute rebuilds plan, estimate, navigation bounds and thumbnails from
// the sources of truth and starts a new render pass. Caller holds s.mu.
func (s *Session) recompute() {
	if s.doc == nil || s.selection.Empty() {
		s.plan = nil
		s.estimate, s.hasEst = consumption.Estimate{}, false
		s.center = nil
		s.nav.SetTotal(0)
		s.sched.Invalidate()
		return
	}

	plan, err := imposition.Build(s.selection, s.config)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build imposition plan")
		s.plan = nil
		s.estimate, s.hasEst = consumption.Estimate{}, false
		s.nav.SetTotal(0)
		s.sched.Invalidate()
		return
	}
	s.plan = plan
	s.estimate, s.hasEst = consumption.Calculate(plan, s.config.Duplex, s.config.Copies)
	s.nav.SetTotal(plan.TotalSheets)
	s.nav.SetAxis(axisFor(s.env.Mode))
	s.thumb = viewport.ForEnvironment(plan.Orientation, s.env)

	pass := s.sched.Start(plan, s.thumb)
	s.log.Debug().
		Uint64("generation", pass.Generation()).
		Int("sheets", plan.TotalSheets).
		Int("pages_per_sheet", plan.PagesPerSheet).
		Str("orientation", string(plan.Orientation)).
		Msg("starting render pass")

	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		if err := pass.Run(s.ctx); err != nil && !errors.Is(err, render.ErrStale) && !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Uint64("generation", pass.Generation()).Msg("render pass aborted")
		}
	}()

	if s.env.Mode == viewport.ModeStrip {
		s.nav.Recenter(false)
	}
}

func axisFor(m viewport.Mode) navigator.Axis {
	if m == viewport.ModeStrip {
		return navigator.AxisHorizontal
	}
	return navigator.AxisVertical
}

// Submission describes the current job for the submission endpoint. The
// orientation is the effective one and PageRanges is empty for all pages.
func (s *Session) Submission(userID string) (jobs.Submission, int, error) {
	if err := s.lock(); err != nil {
		return jobs.Submission{}, 0, err
	}
	defer s.mu.Unlock()
	return s.submissionLocked(userID)
}

func (s *Session) submissionLocked(userID string) (jobs.Submission, int, error) {
	if s.doc == nil || s.plan == nil || !s.hasEst {
		return jobs.Submission{}, 0, pagerange.ErrNoDocumentLoaded
	}
	return jobs.Submission{
		UserID:        userID,
		File:          s.docName,
		FilePath:      s.docPath,
		Copies:        s.config.Copies,
		PagesPerSheet: s.config.PagesPerSheet,
		Duplex:        s.config.Duplex,
		Orientation:   s.config.EffectiveOrientation(),
		PageRanges:    s.selection.Expression(),
	}, s.estimate.Total, nil
}

// Submit sends the current job to sub. Selection or settings changes made
// while the submission is in flight do not affect it.
func (s *Session) Submit(ctx context.Context, userID string, sub Submitter) (jobs.Receipt, error) {
	job, sheets, err := s.Submission(userID)
	if err != nil {
		return jobs.Receipt{}, err
	}
	receipt, err := sub.Submit(ctx, job, sheets)
	if err != nil {
		return jobs.Receipt{}, fmt.Errorf("submit: %w", err)
	}
	s.log.Info().
		Str("job_id", receipt.JobID).
		Int("sheets", sheets).
		Int("remaining", receipt.Remaining).
		Msg("print job submitted")
	return receipt, nil
}

// Slot returns a rendered slot of the current generation.
func (s *Session) Slot(sheet, idx int) (render.SlotThumb, bool) {
	return s.sched.Slot(sheet, idx)
}

// Wait blocks until every render pass started so far has returned.
func (s *Session) Wait() { s.passes.Wait() }

// Close stops pending work and releases the document. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.resizeTimer != nil {
		s.resizeTimer.Stop()
	}
	s.cancel()
	s.unloadLocked()
	s.closed = true
	s.mu.Unlock()
	s.passes.Wait()
	s.events.closeAll()
}
