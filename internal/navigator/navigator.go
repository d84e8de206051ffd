// Package navigator tracks the current sheet and reconciles it with scroll
// position without feeding programmatic scrolls back into navigation.
package navigator

import (
	"math"
	"sync"
	"time"
)

type Axis string

const (
	AxisVertical   Axis = "vertical"
	AxisHorizontal Axis = "horizontal"
)

// DefaultSuppressWindow bounds how long scroll feedback is ignored after a
// centering request that never reports arrival.
const DefaultSuppressWindow = 600 * time.Millisecond

// Vertical reference line: this far below the top of the view, capped.
const (
	referenceOffset   = 140.0
	referenceFraction = 0.35
)

// CenterFunc asks the presentation layer to bring sheet into view. seq
// identifies the request for Release.
type CenterFunc func(sheet int, smooth bool, seq uint64)

// Extent is a span along the scroll axis.
type Extent struct {
	Start  float64 `json:"start"`
	Length float64 `json:"length"`
}

func (e Extent) End() float64    { return e.Start + e.Length }
func (e Extent) Center() float64 { return e.Start + e.Length/2 }

// SheetExtent places one 1-based sheet along the scroll axis.
type SheetExtent struct {
	Index int `json:"index"`
	Extent
}

type suppression struct {
	seq    uint64
	target int
	until  time.Time
}

type Option func(*Navigator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Navigator) { n.now = now }
}

func WithSuppressWindow(d time.Duration) Option {
	return func(n *Navigator) {
		if d > 0 {
			n.window = d
		}
	}
}

// Navigator holds the current sheet, clamped to [1, total] whenever total > 0.
type Navigator struct {
	mu       sync.Mutex
	current  int
	total    int
	axis     Axis
	center   CenterFunc
	now      func() time.Time
	window   time.Duration
	seq      uint64
	suppress *suppression
}

func New(center CenterFunc, opts ...Option) *Navigator {
	n := &Navigator{
		axis:   AxisVertical,
		center: center,
		now:    time.Now,
		window: DefaultSuppressWindow,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Navigator) Current() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *Navigator) Total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.total
}

func (n *Navigator) Axis() Axis {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.axis
}

func (n *Navigator) SetAxis(a Axis) {
	n.mu.Lock()
	n.axis = a
	n.mu.Unlock()
}

// SetTotal updates the sheet count and clamps the current sheet. It never
// requests centering and reports whether the current sheet changed.
func (n *Navigator) SetTotal(total int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if total < 0 {
		total = 0
	}
	n.total = total
	prev := n.current
	switch {
	case total == 0:
		n.current = 0
		n.suppress = nil
	case n.current < 1:
		n.current = 1
	case n.current > total:
		n.current = total
	}
	return prev != n.current
}

// Reset returns to the first sheet without centering.
func (n *Navigator) Reset() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.total == 0 {
		return false
	}
	prev := n.current
	n.current = 1
	return prev != 1
}

// GoTo clamps target and, if it differs from the current sheet, moves there
// and requests smooth centering. Repeating the same target is a no-op.
func (n *Navigator) GoTo(target int) bool {
	n.mu.Lock()
	if n.total == 0 {
		n.mu.Unlock()
		return false
	}
	target = clamp(target, 1, n.total)
	if target == n.current {
		n.mu.Unlock()
		return false
	}
	n.current = target
	fire := n.requestLocked(true)
	n.mu.Unlock()
	fire()
	return true
}

func (n *Navigator) Next() bool     { return n.GoTo(n.Current() + 1) }
func (n *Navigator) Previous() bool { return n.GoTo(n.Current() - 1) }

// Recenter brings the current sheet back into view. Layout changes use the
// instant form.
func (n *Navigator) Recenter(smooth bool) {
	n.mu.Lock()
	if n.total == 0 {
		n.mu.Unlock()
		return
	}
	fire := n.requestLocked(smooth)
	n.mu.Unlock()
	fire()
}

func (n *Navigator) requestLocked(smooth bool) func() {
	n.seq++
	seq, sheet := n.seq, n.current
	n.suppress = &suppression{seq: seq, target: sheet, until: n.now().Add(n.window)}
	center := n.center
	return func() {
		if center != nil {
			center(sheet, smooth, seq)
		}
	}
}

// Release ends the suppression window opened by request seq, e.g. when the
// presentation layer reports that a smooth scroll finished.
func (n *Navigator) Release(seq uint64) {
	n.mu.Lock()
	if n.suppress != nil && n.suppress.seq == seq {
		n.suppress = nil
	}
	n.mu.Unlock()
}

// Suppressed reports whether scroll feedback is currently ignored.
func (n *Navigator) Suppressed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expireLocked()
	return n.suppress != nil
}

func (n *Navigator) expireLocked() {
	if n.suppress != nil && !n.now().Before(n.suppress.until) {
		n.suppress = nil
	}
}

// OnScroll picks the sheet nearest the reference line and makes it current.
// It never requests centering. While a centering request is in flight only
// its arrival at the target is accepted.
func (n *Navigator) OnScroll(sheets []SheetExtent, view Extent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.total == 0 || view.Length <= 0 {
		return false
	}
	best, ok := Nearest(sheets, view, n.axis)
	if !ok {
		return false
	}

	n.expireLocked()
	if n.suppress != nil {
		if best != n.suppress.target {
			return false
		}
		n.suppress = nil
	}

	best = clamp(best, 1, n.total)
	if best == n.current {
		return false
	}
	n.current = best
	return true
}

// Nearest returns the index of the visible sheet closest to the axis
// reference. Ties go to the earlier sheet.
func Nearest(sheets []SheetExtent, view Extent, axis Axis) (int, bool) {
	var ref float64
	if axis == AxisHorizontal {
		ref = view.Center()
	} else {
		ref = view.Start + math.Min(referenceOffset, view.Length*referenceFraction)
	}

	best, bestDist := 0, math.Inf(1)
	for _, sh := range sheets {
		if sh.Length <= 0 || sh.End() < view.Start || sh.Start > view.End() {
			continue
		}
		var d float64
		if axis == AxisHorizontal {
			d = math.Abs(sh.Center() - ref)
		} else {
			switch {
			case ref >= sh.Start && ref <= sh.End():
				d = 0
			default:
				d = math.Min(math.Abs(sh.Start-ref), math.Abs(sh.End()-ref))
			}
		}
		if d < bestDist {
			best, bestDist = sh.Index, d
		}
	}
	return best, best > 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
