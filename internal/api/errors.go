package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/imposition"
	"github.com/local/printpreview/internal/jobs"
	"github.com/local/printpreview/internal/pagerange"
	"github.com/local/printpreview/internal/preview"
	"github.com/local/printpreview/internal/source"
)

type cooldownError struct {
	origin string
	wait   time.Duration
}

func (e *cooldownError) Error() string {
	return fmt.Sprintf("fetches from %s are paused after repeated failures", e.origin)
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequest(msg) }

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Required  int    `json:"required,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
}

func classify(err error) (int, errorBody) {
	var (
		pe  *pagerange.ParseError
		rej *jobs.RejectedError
		br  badRequest
	)
	switch {
	case errors.As(err, &pe):
		return http.StatusBadRequest, errorBody{Error: pe.Message(), Code: string(pe.Kind), Retryable: pe.Retryable()}
	case errors.As(err, &rej):
		remaining := rej.Remaining
		return http.StatusForbidden, errorBody{Error: rej.Error(), Code: "QUOTA_EXCEEDED", Required: rej.Required, Remaining: &remaining}
	case errors.As(err, &br):
		return http.StatusBadRequest, errorBody{Error: br.Error(), Code: "BAD_REQUEST", Retryable: true}
	case errors.Is(err, preview.ErrSessionNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "SESSION_NOT_FOUND"}
	case errors.Is(err, preview.ErrSessionClosed):
		return http.StatusGone, errorBody{Error: err.Error(), Code: "SESSION_CLOSED"}
	case errors.Is(err, preview.ErrOrientationLocked):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "ORIENTATION_LOCKED", Retryable: true}
	case errors.Is(err, pagerange.ErrNoDocumentLoaded):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "NO_DOCUMENT_LOADED", Retryable: true}
	case errors.Is(err, imposition.ErrInvalidConfig):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INVALID_SETTINGS", Retryable: true}
	case errors.Is(err, jobs.ErrInvalidSubmission):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INVALID_SUBMISSION"}
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "JOB_NOT_FOUND"}
	case errors.Is(err, jobs.ErrNotCancellable):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "JOB_NOT_CANCELLABLE"}
	case errors.Is(err, source.ErrNotPDF):
		return http.StatusUnsupportedMediaType, errorBody{Error: err.Error(), Code: "UNSUPPORTED_FILE"}
	case errors.Is(err, source.ErrEmptyFile), errors.Is(err, source.ErrInvalidRef):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INVALID_DOCUMENT"}
	case errors.Is(err, source.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Code: "FILE_TOO_LARGE"}
	case errors.Is(err, errBusy):
		return http.StatusTooManyRequests, errorBody{Error: err.Error(), Code: "TOO_MANY_UPLOADS", Retryable: true}
	case errors.Is(err, errFetch):
		return http.StatusBadGateway, errorBody{Error: err.Error(), Code: "FETCH_FAILED", Retryable: true}
	}
	var cd *cooldownError
	if errors.As(err, &cd) {
		return http.StatusServiceUnavailable, errorBody{Error: cd.Error(), Code: "ORIGIN_COOLDOWN", Retryable: true}
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge, errorBody{Error: "file too large", Code: "FILE_TOO_LARGE"}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"}
}

func writeError(w http.ResponseWriter, err error) {
	code, body := classify(err)
	var cd *cooldownError
	if errors.As(err, &cd) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(cd.wait.Seconds()))))
	}
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request error")
	}
	writeJSON(w, code, body)
}
