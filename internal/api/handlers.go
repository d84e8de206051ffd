package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/navigator"
	"github.com/local/printpreview/internal/preview"
	"github.com/local/printpreview/internal/rasterize"
	"github.com/local/printpreview/internal/render"
	"github.com/local/printpreview/internal/source"
	"github.com/local/printpreview/internal/viewport"
)

var (
	errFetch = errors.New("document fetch failed")
	errBusy  = errors.New("too many uploads in progress")
)

// originOf returns the host of an http(s) URL or the bucket of an s3 ref.
func originOf(ref string) string {
	if strings.HasPrefix(ref, "s3://") {
		bucket, _, _ := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		return "s3:" + bucket
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return u.Host
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	sum := s.deps.Status.Summary(r.Context())
	code := http.StatusOK
	if !sum.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

func (s *Server) session(r *http.Request) (*preview.Session, error) {
	return s.deps.Sessions.Get(r.PathValue("id"))
}

// respond writes the session state after a mutation, or the mutation error.
func respond(w http.ResponseWriter, sess *preview.Session, code int, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := sess.State()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, code, st)
}

// handleCreate starts a session, loading a document when one is supplied as a
// multipart "file" or a JSON {"file_url"}.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Create()
	if r.ContentLength == 0 && !isMultipart(r) {
		respond(w, sess, http.StatusCreated, nil)
		return
	}
	if err := s.load(w, r, sess); err != nil {
		_ = s.deps.Sessions.Remove(sess.ID())
		writeError(w, err)
		return
	}
	respond(w, sess, http.StatusCreated, nil)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, sess, http.StatusOK, s.load(w, r, sess))
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, sess, http.StatusOK, sess.CloseDocument())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, sess, http.StatusOK, nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Remove(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
}

// load spools the supplied document, cross-checks its page count and hands it
// to the session.
func (s *Server) load(w http.ResponseWriter, r *http.Request, sess *preview.Session) error {
	release, ok := s.deps.Limiter.Allow("upload", clientKey(r))
	if !ok {
		return errBusy
	}
	defer release()

	doc, err := s.receive(w, r)
	if err != nil {
		return err
	}
	pages, cerr := source.CountPages(doc.Path)
	if cerr != nil {
		log.Warn().Err(cerr).Str("file", doc.Name).Msg("pdfcpu could not count pages, relying on rasterizer")
	}
	rd, err := s.deps.Open(doc.Path)
	if err != nil {
		_ = os.Remove(doc.Path)
		return fmt.Errorf("%w: %v", source.ErrNotPDF, err)
	}
	if cerr == nil && pages != rd.PageCount() {
		log.Warn().Str("file", doc.Name).Int("pdfcpu", pages).Int("mupdf", rd.PageCount()).Msg("page count mismatch")
	}
	if err := sess.LoadDocument(rd, doc.Name, doc.Path); err != nil {
		_ = rd.Close()
		return err
	}
	return nil
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) (source.Document, error) {
	if s.deps.Spool == nil {
		return source.Document{}, errors.New("spool not configured")
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if isMultipart(r) {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return source.Document{}, err
			}
			return source.Document{}, errBadRequest("missing file")
		}
		defer file.Close()
		return s.deps.Spool.Save(file, hdr.Filename)
	}

	var req struct {
		FileURL string `json:"file_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return source.Document{}, err
	}
	ref := strings.TrimSpace(req.FileURL)
	if !strings.HasPrefix(ref, "s3://") && !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return source.Document{}, fmt.Errorf("%w: only http(s) and s3 references are accepted", source.ErrInvalidRef)
	}
	if s.deps.Fetcher == nil {
		return source.Document{}, fmt.Errorf("%w: remote documents disabled", source.ErrInvalidRef)
	}
	origin := originOf(ref)
	if wait := s.deps.Limiter.RetryAfter(r.Context(), "origin", origin); wait > 0 {
		return source.Document{}, &cooldownError{origin: origin, wait: wait}
	}
	fetched, err := s.deps.Fetcher.Fetch(r.Context(), ref)
	if err != nil {
		if errors.Is(err, source.ErrNotPDF) || errors.Is(err, source.ErrInvalidRef) ||
			errors.Is(err, source.ErrEmptyFile) || errors.Is(err, source.ErrTooLarge) {
			return source.Document{}, err
		}
		s.deps.Limiter.Open(r.Context(), "origin", origin)
		return source.Document{}, fmt.Errorf("%w: %v", errFetch, err)
	}
	s.deps.Limiter.Close(r.Context(), "origin", origin)
	// move into the spool so the print worker finds it after temp cleanup
	f, err := os.Open(fetched.Path)
	if err != nil {
		return source.Document{}, err
	}
	defer func() {
		_ = f.Close()
		if fetched.Temp {
			_ = os.Remove(fetched.Path)
		}
	}()
	return s.deps.Spool.Save(f, fetched.Name)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Expression string `json:"expression"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	respond(w, sess, http.StatusOK, sess.SetExpression(req.Expression))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Page int `json:"page"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	respond(w, sess, http.StatusOK, sess.TogglePage(req.Page))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req preview.Settings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	respond(w, sess, http.StatusOK, sess.ApplySettings(req))
}

type viewportReq struct {
	viewport.Environment
	Immediate bool `json:"immediate"`
}

// handleViewport applies a resize. Immediate resizes answer 200 with the new
// state; debounced ones answer 202 because the change is still pending.
func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req viewportReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Window.Width <= 0 || req.Window.Height <= 0 {
		writeError(w, errBadRequest("window size required"))
		return
	}
	if req.Immediate {
		respond(w, sess, http.StatusOK, sess.ApplyEnvironment(req.Environment))
		return
	}
	respond(w, sess, http.StatusAccepted, sess.Resize(req.Environment))
}

type navigateReq struct {
	Action string `json:"action"`
	Sheet  int    `json:"sheet"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req navigateReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var moved bool
	switch req.Action {
	case "next":
		moved, err = sess.Next()
	case "previous", "prev":
		moved, err = sess.Previous()
	case "goto", "":
		moved, err = sess.GoTo(req.Sheet)
	default:
		err = errBadRequest("unknown action " + strconv.Quote(req.Action))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := sess.State()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moved": moved, "state": st})
}

type scrollReq struct {
	Sheets  []navigator.SheetExtent `json:"sheets"`
	View    navigator.Extent        `json:"view"`
	Release uint64                  `json:"release,omitempty"`
}

// handleScroll reports the client's scroll geometry. Release acknowledges a
// settled centering request before the position is reconciled.
func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req scrollReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Release > 0 {
		if err := sess.Release(req.Release); err != nil {
			writeError(w, err)
			return
		}
	}
	changed, err := sess.OnScroll(req.Sheets, req.View)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := sess.State()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "current": st.Navigation.Current, "navigation": st.Navigation})
}

// handleSlot serves one rendered slot as JPEG. Sheets and slots are 1-based.
func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sheet, err := pathInt(r, "sheet")
	if err != nil {
		writeError(w, err)
		return
	}
	slot, err := pathInt(r, "slot")
	if err != nil {
		writeError(w, err)
		return
	}
	th, ok := sess.Slot(sheet, slot-1)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "slot not found", Code: "SLOT_NOT_FOUND"})
		return
	}
	switch th.State {
	case render.SlotPending:
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusAccepted, th)
		return
	case render.SlotPlaceholder:
		w.WriteHeader(http.StatusNoContent)
		return
	case render.SlotFailed:
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: th.Err, Code: "RASTERIZATION_FAILED"})
		return
	}
	b, err := rasterize.EncodeJPEG(th.Image, s.deps.JPEGQuality, s.deps.ColorMode)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Page", strconv.Itoa(th.Page))
	_, _ = w.Write(b)
}

// handleEvents streams committed slots as server-sent events. Slots are
// 1-based like the slot URLs. The stream ends when the client goes away or
// the session closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, cancel, err := sess.Subscribe()
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	// the server write timeout would cut long-lived streams
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ev.Slot++
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: slot\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "job submission unavailable", Code: "UNAVAILABLE", Retryable: true})
		return
	}
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user := userID(r)
	if user == "" {
		var req struct {
			UserID string `json:"user_id"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
		}
		user = strings.TrimSpace(req.UserID)
	}
	if user == "" {
		writeError(w, errBadRequest("missing user_id"))
		return
	}
	// the job is charged even if the client disconnects mid-request
	receipt, err := sess.Submit(context.WithoutCancel(r.Context()), user, s.deps.Jobs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "quota unavailable", Code: "UNAVAILABLE", Retryable: true})
		return
	}
	user := userID(r)
	if user == "" {
		writeError(w, errBadRequest("missing user_id"))
		return
	}
	q, err := s.deps.Jobs.CurrentQuota(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// jobsUser resolves the caller for the job endpoints and writes the error
// response when it cannot.
func (s *Server) jobsUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "job history unavailable", Code: "UNAVAILABLE", Retryable: true})
		return "", false
	}
	user := userID(r)
	if user == "" {
		writeError(w, errBadRequest("missing user_id"))
		return "", false
	}
	return user, true
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	user, ok := s.jobsUser(w, r)
	if !ok {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, errBadRequest("invalid limit"))
			return
		}
		limit = min(n, 100)
	}
	recs, err := s.deps.Jobs.History(r.Context(), user, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user, "jobs": recs})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	user, ok := s.jobsUser(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Jobs.Job(r.Context(), user, r.PathValue("job"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, ok := s.jobsUser(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Jobs.Cancel(r.Context(), user, r.PathValue("job"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
