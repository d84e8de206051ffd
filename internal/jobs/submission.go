// Package jobs accepts print jobs, charges them against the monthly quota and
// keeps a per-user history.
package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/local/printpreview/internal/imposition"
)

// Submission is what the preview hands to the submission endpoint.
// PageRanges empty means all pages; Orientation is the effective one.
type Submission struct {
	UserID        string                 `json:"user_id"`
	File          string                 `json:"file"`
	FilePath      string                 `json:"-"`
	Copies        int                    `json:"copies"`
	PagesPerSheet int                    `json:"pages_per_sheet"`
	Duplex        bool                   `json:"duplex"`
	Orientation   imposition.Orientation `json:"orientation"`
	PageRanges    string                 `json:"page_ranges,omitempty"`
}

func (s Submission) Config() imposition.Config {
	return imposition.Config{
		PagesPerSheet: s.PagesPerSheet,
		Duplex:        s.Duplex,
		Orientation:   s.Orientation,
		Copies:        s.Copies,
	}
}

// Validate checks the fields the backend depends on.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidSubmission)
	}
	if strings.TrimSpace(s.File) == "" {
		return fmt.Errorf("%w: missing file", ErrInvalidSubmission)
	}
	if err := s.Config().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	return nil
}

// Receipt is returned for an accepted job.
type Receipt struct {
	JobID       string    `json:"job_id"`
	StreamID    string    `json:"stream_id"`
	Sheets      int       `json:"sheets"`
	Remaining   int       `json:"remaining"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PrintOptions maps a submission to IPP job attributes.
func PrintOptions(s Submission) map[string]string {
	cfg := s.Config()
	opts := map[string]string{
		"number-up":             strconv.Itoa(s.PagesPerSheet),
		"sides":                 cfg.Sides(),
		"orientation-requested": strconv.Itoa(s.Orientation.IPPValue()),
		"copies":                strconv.Itoa(max(1, s.Copies)),
	}
	if r := strings.TrimSpace(s.PageRanges); r != "" {
		opts["page-ranges"] = r
	}
	return opts
}
