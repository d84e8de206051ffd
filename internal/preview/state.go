package preview

import (
	"errors"

	"github.com/local/printpreview/internal/consumption"
	"github.com/local/printpreview/internal/imposition"
	"github.com/local/printpreview/internal/navigator"
	"github.com/local/printpreview/internal/pagerange"
	"github.com/local/printpreview/internal/render"
	"github.com/local/printpreview/internal/viewport"
)

const (
	StatusIdle  = "idle"
	StatusReady = "ready"
)

type DocumentInfo struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
}

// Validation is the inline message shown next to the page-range input.
type Validation struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type SelectionState struct {
	Expression string      `json:"expression"`
	Pages      []int       `json:"pages"`
	Count      int         `json:"count"`
	Summary    string      `json:"summary"`
	Validation *Validation `json:"validation,omitempty"`
}

type SettingsState struct {
	imposition.Config
	EffectiveOrientation imposition.Orientation `json:"effective_orientation"`
	OrientationLocked    bool                   `json:"orientation_locked"`
}

type EstimateState struct {
	consumption.Estimate
	Text string `json:"text"`
}

// NavigationState.Suppressed is true while scroll reports are ignored
// because a centering request has not arrived yet.
type NavigationState struct {
	Current    int            `json:"current"`
	Total      int            `json:"total"`
	Mode       viewport.Mode  `json:"mode"`
	Axis       navigator.Axis `json:"axis"`
	Center     *CenterRequest `json:"center,omitempty"`
	Suppressed bool           `json:"suppressed"`
}

// State is a consistent snapshot of a session.
type State struct {
	ID         string               `json:"id"`
	Status     string               `json:"status"`
	Document   *DocumentInfo        `json:"document,omitempty"`
	Selection  SelectionState       `json:"selection"`
	Settings   SettingsState        `json:"settings"`
	Plan       *imposition.Plan     `json:"plan,omitempty"`
	Estimate   *EstimateState       `json:"estimate,omitempty"`
	Viewport   viewport.Environment `json:"viewport"`
	Thumbnail  *viewport.Thumbnail  `json:"thumbnail,omitempty"`
	Navigation NavigationState      `json:"navigation"`
	Render     render.Board         `json:"render"`
}

// State returns a snapshot. A closed session reports ErrSessionClosed.
func (s *Session) State() (State, error) {
	if err := s.lock(); err != nil {
		return State{}, err
	}
	defer s.mu.Unlock()

	st := State{
		ID:     s.id,
		Status: StatusIdle,
		Selection: SelectionState{
			Expression: s.expression,
			Pages:      s.selection.Pages(),
			Count:      s.selection.Len(),
		},
		Settings: SettingsState{
			Config:               s.config,
			EffectiveOrientation: s.config.EffectiveOrientation(),
			OrientationLocked:    s.config.OrientationLocked(),
		},
		Viewport: s.env,
		Navigation: NavigationState{
			Current:    s.nav.Current(),
			Total:      s.nav.Total(),
			Mode:       s.env.Mode,
			Axis:       s.nav.Axis(),
			Center:     s.center,
			Suppressed: s.nav.Suppressed(),
		},
		Render: s.sched.Snapshot(),
	}
	if s.invalid != nil {
		st.Selection.Validation = validationFor(s.invalid)
	}

	if s.doc == nil {
		return st, nil
	}
	st.Status = StatusReady
	st.Document = &DocumentInfo{Name: s.docName, Pages: s.doc.PageCount()}
	st.Selection.Summary = s.selection.Summary()
	if s.plan != nil {
		st.Plan = s.plan
		thumb := s.thumb
		st.Thumbnail = &thumb
	}
	if s.hasEst {
		st.Estimate = &EstimateState{Estimate: s.estimate, Text: s.estimate.String()}
	}
	return st, nil
}

func validationFor(err error) *Validation {
	var pe *pagerange.ParseError
	if errors.As(err, &pe) {
		return &Validation{Code: string(pe.Kind), Message: pe.Message(), Retryable: pe.Retryable()}
	}
	return &Validation{Code: "INVALID_SELECTION", Message: err.Error(), Retryable: true}
}
