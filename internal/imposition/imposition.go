// Package imposition lays selected pages out onto N-up sheets.
package imposition

import (
	"errors"
	"fmt"

	"github.com/local/printpreview/internal/pagerange"
)

// Orientation is the sheet orientation requested by the user.
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// IPPValue is the orientation-requested value understood by print servers.
func (o Orientation) IPPValue() int {
	if o == Landscape {
		return 4
	}
	return 3
}

// ParseOrientation accepts the canonical names only.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case Portrait, Landscape:
		return Orientation(s), nil
	}
	return "", fmt.Errorf("%w: orientation %q", ErrInvalidConfig, s)
}

var ErrInvalidConfig = errors.New("invalid imposition config")

// Config holds the user's print settings. Orientation is the requested value;
// use EffectiveOrientation for what is actually laid out.
type Config struct {
	PagesPerSheet int         `json:"pages_per_sheet"`
	Duplex        bool        `json:"duplex"`
	Orientation   Orientation `json:"orientation"`
	Copies        int         `json:"copies"`
}

// DefaultConfig is 1-up, simplex, portrait, one copy.
func DefaultConfig() Config {
	return Config{PagesPerSheet: 1, Orientation: Portrait, Copies: 1}
}

func (c Config) Validate() error {
	switch c.PagesPerSheet {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: pages per sheet must be 1, 2 or 4, got %d", ErrInvalidConfig, c.PagesPerSheet)
	}
	if _, err := ParseOrientation(string(c.Orientation)); err != nil {
		return err
	}
	if c.Copies < 1 {
		return fmt.Errorf("%w: copies must be positive, got %d", ErrInvalidConfig, c.Copies)
	}
	return nil
}

// OrientationLocked is true when the orientation control must be shown
// disabled because the layout forces landscape.
func (c Config) OrientationLocked() bool { return c.PagesPerSheet == 2 }

// EffectiveOrientation is landscape for 2-up and the requested orientation
// otherwise.
func (c Config) EffectiveOrientation() Orientation {
	if c.OrientationLocked() {
		return Landscape
	}
	if c.Orientation == "" {
		return Portrait
	}
	return c.Orientation
}

// Sides maps duplex and effective orientation onto the print-server sides value.
// Landscape duplex flips on the short edge.
func (c Config) Sides() string {
	if !c.Duplex {
		return "one-sided"
	}
	if c.EffectiveOrientation() == Landscape {
		return "two-sided-short-edge"
	}
	return "two-sided-long-edge"
}

// Layout is the page grid on one sheet face.
type Layout struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

// Cells is the number of page slots in the grid.
func (l Layout) Cells() int { return l.Columns * l.Rows }

// LayoutFor returns the grid for n pages per sheet.
func LayoutFor(n int) Layout {
	switch n {
	case 1:
		return Layout{Columns: 1, Rows: 1}
	case 2:
		return Layout{Columns: 2, Rows: 1}
	default:
		return Layout{Columns: 2, Rows: 2}
	}
}

// Slot is one page position on a sheet. Page 0 marks an unfilled placeholder.
type Slot struct {
	Page int `json:"page"`
}

func (s Slot) Empty() bool { return s.Page == 0 }

// Sheet is one planned sheet face.
type Sheet struct {
	Index int    `json:"index"` // 1-based
	Slots []Slot `json:"slots"`
}

// Plan is an immutable imposition snapshot. Callers must not modify it.
type Plan struct {
	PagesPerSheet int         `json:"pages_per_sheet"`
	Layout        Layout      `json:"layout"`
	Orientation   Orientation `json:"orientation"` // effective
	TotalSheets   int         `json:"total_sheets"`
	Sheets        []Sheet     `json:"sheets"`
}

// Build lays sel out under cfg. Pages fill sheets in selection order and
// row-major within the grid; the last sheet pads with empty slots. An empty
// selection has no plan.
func Build(sel pagerange.Selection, cfg Config) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sel.Empty() {
		return nil, pagerange.ErrNoDocumentLoaded
	}

	n := cfg.PagesPerSheet
	pages := sel.Pages()
	total := (len(pages) + n - 1) / n

	plan := &Plan{
		PagesPerSheet: n,
		Layout:        LayoutFor(n),
		Orientation:   cfg.EffectiveOrientation(),
		TotalSheets:   total,
		Sheets:        make([]Sheet, total),
	}
	for i := 0; i < total; i++ {
		slots := make([]Slot, n)
		for j := 0; j < n; j++ {
			if k := i*n + j; k < len(pages) {
				slots[j] = Slot{Page: pages[k]}
			}
		}
		plan.Sheets[i] = Sheet{Index: i + 1, Slots: slots}
	}
	return plan, nil
}
