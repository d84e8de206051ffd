// Package consumption predicts how many physical sheets a job will use.
package consumption

import (
	"fmt"

	"github.com/local/printpreview/internal/imposition"
)

// Estimate breaks the prediction down per copy.
type Estimate struct {
	Faces         int `json:"faces"`           // planned sheet faces per copy
	SheetsPerCopy int `json:"sheets_per_copy"` // physical sheets per copy
	Copies        int `json:"copies"`
	Total         int `json:"total"`
}

func (e Estimate) String() string {
	return fmt.Sprintf("Estimated consumption: %d sheet(s)", e.Total)
}

// Calculate derives physical sheet consumption from a plan. Duplex puts two
// faces on one physical sheet; copies below 1 count as 1. A nil plan (no
// document) yields no estimate.
func Calculate(plan *imposition.Plan, duplex bool, copies int) (Estimate, bool) {
	if plan == nil || plan.TotalSheets <= 0 {
		return Estimate{}, false
	}
	faces := plan.TotalSheets
	perCopy := faces
	if duplex {
		perCopy = (faces + 1) / 2
	}
	if copies < 1 {
		copies = 1
	}
	return Estimate{
		Faces:         faces,
		SheetsPerCopy: perCopy,
		Copies:        copies,
		Total:         perCopy * copies,
	}, true
}
