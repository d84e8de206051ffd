// Package viewport sizes sheet thumbnails for the available screen space.
package viewport

import (
	"math"

	"github.com/local/printpreview/internal/imposition"
)

// Mode is the preview layout. The caller picks it from the window width.
type Mode string

const (
	// ModeSingle shows enlarged sheets navigated explicitly (wide screens).
	ModeSingle Mode = "single"
	// ModeStrip shows a swipeable carousel of reduced thumbnails (narrow screens).
	ModeStrip Mode = "strip"
)

const (
	DefaultBreakpoint = 980.0
	MaxDPR            = 1.4

	SheetPadding = 8.0
	SheetGap     = 6.0

	borderReserve = 24.0
	labelReserve  = 38.0
	minBudget     = 120.0
	minStripWidth = 170.0
	minStripH     = 140.0
	windowMargin  = 56.0

	MinCSSWidth  = 96
	MinCSSHeight = 130
)

// Size is a width/height pair in CSS pixels (or page points for aspects).
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) valid() bool { return s.Width > 0 && s.Height > 0 }

// SheetSize is an A4 sheet at 96 dpi in the given orientation.
func SheetSize(o imposition.Orientation) Size {
	if o == imposition.Landscape {
		return Size{Width: 1123, Height: 794}
	}
	return Size{Width: 794, Height: 1123}
}

// ModeForWidth returns ModeStrip at or below the breakpoint.
func ModeForWidth(windowWidth, breakpoint float64) Mode {
	if breakpoint <= 0 {
		breakpoint = DefaultBreakpoint
	}
	if windowWidth <= breakpoint {
		return ModeStrip
	}
	return ModeSingle
}

// Environment describes the client's viewport. Pane is the preview container;
// a zero Pane means it has not been laid out yet.
type Environment struct {
	Window Size    `json:"window"`
	Pane   Size    `json:"pane"`
	DPR    float64 `json:"dpr"`
	Mode   Mode    `json:"mode"`
}

// ContainerBudget is the space one sheet thumbnail may occupy.
func ContainerBudget(env Environment) Size {
	strip := env.Mode == ModeStrip

	var width, height float64
	if env.Pane.valid() {
		width = math.Max(minBudget, env.Pane.Width-borderReserve)
		height = math.Max(minBudget, env.Pane.Height-borderReserve)
	} else {
		frac := 0.5
		if strip {
			frac = 0.36
		}
		width = math.Max(minBudget, env.Window.Width-windowMargin)
		height = math.Max(minBudget, math.Floor(env.Window.Height*frac))
	}

	if strip {
		height = math.Max(minStripH, height-labelReserve)
		width = math.Max(minStripWidth, width)
	}
	return Size{Width: width, Height: height}
}

// Thumbnail is the computed size of one sheet preview. CSS size follows the
// logical scale; RenderScale additionally applies the capped pixel ratio.
type Thumbnail struct {
	CSSWidth    int     `json:"css_width"`
	CSSHeight   int     `json:"css_height"`
	Scale       float64 `json:"scale"`
	DPR         float64 `json:"dpr"`
	RenderScale float64 `json:"render_scale"`
	Mode        Mode    `json:"mode"`
}

// ClampDPR caps the device pixel ratio used for rasterization.
func ClampDPR(dpr float64) float64 {
	if dpr <= 0 || math.IsNaN(dpr) {
		return 1
	}
	return math.Min(dpr, MaxDPR)
}

// SizeThumbnail fits sheet into budget without enlarging it.
func SizeThumbnail(sheet, budget Size, dpr float64, mode Mode) Thumbnail {
	if !sheet.valid() {
		sheet = SheetSize(imposition.Portrait)
	}
	scale := 1.0
	if budget.valid() {
		scale = math.Min(1, math.Min(budget.Width/sheet.Width, budget.Height/sheet.Height))
	}
	capped := ClampDPR(dpr)
	return Thumbnail{
		CSSWidth:    max(MinCSSWidth, int(math.Round(sheet.Width*scale))),
		CSSHeight:   max(MinCSSHeight, int(math.Round(sheet.Height*scale))),
		Scale:       scale,
		DPR:         capped,
		RenderScale: scale * capped,
		Mode:        mode,
	}
}

// ForEnvironment sizes a thumbnail for the effective orientation of a plan.
func ForEnvironment(o imposition.Orientation, env Environment) Thumbnail {
	return SizeThumbnail(SheetSize(o), ContainerBudget(env), env.DPR, env.Mode)
}

// CellBudget is the space for one page slot inside the thumbnail grid.
func CellBudget(t Thumbnail, l imposition.Layout) Size {
	cols := float64(max(1, l.Columns))
	rows := float64(max(1, l.Rows))
	w := float64(t.CSSWidth) - SheetPadding*2 - SheetGap*(cols-1)
	h := float64(t.CSSHeight) - SheetPadding*2 - SheetGap*(rows-1)
	return Size{Width: math.Max(1, w/cols), Height: math.Max(1, h/rows)}
}

// SlotFit is the placement of one page inside its cell.
type SlotFit struct {
	CSSWidth    int     `json:"css_width"`
	CSSHeight   int     `json:"css_height"`
	Scale       float64 `json:"scale"`
	RenderScale float64 `json:"render_scale"`
}

// FitSlot scales a page of the given natural size into cell. The render scale
// multiplies by the already capped DPR of the thumbnail.
func FitSlot(page, cell Size, dpr float64) SlotFit {
	if !page.valid() || !cell.valid() {
		return SlotFit{}
	}
	scale := math.Min(cell.Width/page.Width, cell.Height/page.Height)
	return SlotFit{
		CSSWidth:    int(math.Floor(page.Width * scale)),
		CSSHeight:   int(math.Floor(page.Height * scale)),
		Scale:       scale,
		RenderScale: scale * ClampDPR(dpr),
	}
}
