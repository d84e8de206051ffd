package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/printpreview/internal/jobs"
	"github.com/local/printpreview/internal/limiter"
	"github.com/local/printpreview/internal/pdftest"
	"github.com/local/printpreview/internal/preview"
	"github.com/local/printpreview/internal/source"
)

type env struct {
	ts   *httptest.Server
	reg  *preview.Registry
	jobs *jobs.Service
}

func newEnv(t *testing.T, opts ...func(*Dependencies)) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := preview.NewRegistry(preview.Options{ResizeDebounce: 10 * time.Millisecond}, 0)
	t.Cleanup(reg.CloseAll)
	svc := jobs.NewService(client, "", 100, source.CountPages)

	deps := Dependencies{
		Sessions: reg,
		Jobs:     svc,
		Spool:    &source.Spool{Dir: t.TempDir()},
		Fetcher:  &source.Fetcher{TempDir: t.TempDir()},
		Limiter:  limiter.New(client, limiter.Options{}),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv := New(deps)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &env{ts: ts, reg: reg, jobs: svc}
}

type stateResp struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Document *struct {
		Name  string `json:"name"`
		Pages int    `json:"pages"`
	} `json:"document"`
	Selection struct {
		Expression string `json:"expression"`
		Count      int    `json:"count"`
		Validation *struct {
			Code string `json:"code"`
		} `json:"validation"`
	} `json:"selection"`
	Settings struct {
		PagesPerSheet        int    `json:"pages_per_sheet"`
		Orientation          string `json:"orientation"`
		EffectiveOrientation string `json:"effective_orientation"`
		OrientationLocked    bool   `json:"orientation_locked"`
	} `json:"settings"`
	Plan *struct {
		TotalSheets int `json:"total_sheets"`
	} `json:"plan"`
	Estimate *struct {
		Total int    `json:"total"`
		Text  string `json:"text"`
	} `json:"estimate"`
	Navigation struct {
		Current int    `json:"current"`
		Total   int    `json:"total"`
		Mode    string `json:"mode"`
		Axis    string `json:"axis"`
	} `json:"navigation"`
}

func (e *env) upload(t *testing.T, pages int) stateResp {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "handout.pdf")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(pdftest.Build(pdftest.Pages(pages)...))
	_ = mw.Close()

	resp, err := http.Post(e.ts.URL+"/preview", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("create status = %d: %s", resp.StatusCode, b)
	}
	var st stateResp
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	return st
}

func (e *env) do(t *testing.T, method, path string, body any, hdr map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCreateIdleSession(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/preview", nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	st := decode[stateResp](t, resp)
	if st.Status != preview.StatusIdle || st.Document != nil || st.Plan != nil || st.Estimate != nil {
		t.Fatalf("idle state = %+v", st)
	}
	if e.reg.Len() != 1 {
		t.Errorf("sessions = %d", e.reg.Len())
	}
}

func TestCreateWithUpload(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 5)
	if st.Status != preview.StatusReady || st.Document == nil || st.Document.Pages != 5 || st.Document.Name != "handout.pdf" {
		t.Fatalf("state = %+v", st)
	}
	if st.Plan == nil || st.Plan.TotalSheets != 5 || st.Navigation.Current != 1 || st.Navigation.Total != 5 {
		t.Fatalf("plan/nav = %+v %+v", st.Plan, st.Navigation)
	}
	if st.Estimate == nil || st.Estimate.Total != 5 {
		t.Errorf("estimate = %+v", st.Estimate)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	e := newEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "notes.pdf")
	_, _ = fw.Write([]byte("just some plain text, not a pdf"))
	_ = mw.Close()

	resp, err := http.Post(e.ts.URL+"/preview", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if e.reg.Len() != 0 {
		t.Errorf("failed create must not leave a session, have %d", e.reg.Len())
	}
}

func TestCreateFromURL(t *testing.T) {
	pdf := pdftest.Build(pdftest.Pages(3)...)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	}))
	defer origin.Close()

	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/preview", map[string]string{"file_url": origin.URL + "/files/report.pdf"}, nil)
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, b)
	}
	st := decode[stateResp](t, resp)
	if st.Document == nil || st.Document.Name != "report.pdf" || st.Document.Pages != 3 {
		t.Fatalf("document = %+v", st.Document)
	}
}

func TestCreateFromURLTooLarge(t *testing.T) {
	pdf := pdftest.Build(pdftest.Pages(3)...)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write(pdf)
	}))
	defer origin.Close()

	e := newEnv(t, func(d *Dependencies) { d.MaxUploadBytes = int64(len(pdf)) / 2 })
	ref := map[string]string{"file_url": origin.URL + "/big.pdf"}
	resp := e.do(t, http.MethodPost, "/preview", ref, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge || decode[errorBody](t, resp).Code != "FILE_TOO_LARGE" {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// an oversized document is not an origin failure
	if resp := e.do(t, http.MethodPost, "/preview", ref, nil); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("second request status = %d", resp.StatusCode)
	}
	if e.reg.Len() != 0 {
		t.Errorf("sessions = %d", e.reg.Len())
	}
}

func TestFailingOriginCoolsDown(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer origin.Close()

	e := newEnv(t)
	ref := map[string]string{"file_url": origin.URL + "/doc.pdf"}
	resp := e.do(t, http.MethodPost, "/preview", ref, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("first fetch status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPost, "/preview", ref, nil)
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("second fetch status = %d retry-after = %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
	if decode[errorBody](t, resp).Code != "ORIGIN_COOLDOWN" {
		t.Error("wrong code")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("origin hit %d times during cooldown", n)
	}
	if e.reg.Len() != 0 {
		t.Errorf("sessions = %d", e.reg.Len())
	}
}

func TestCreateRejectsLocalPath(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/preview", map[string]string{"file_url": "/etc/hosts"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Code != "INVALID_DOCUMENT" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/preview/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if decode[errorBody](t, resp).Code != "SESSION_NOT_FOUND" {
		t.Error("wrong code")
	}
}

func TestSelectionInvalidKeepsPrevious(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 5)
	base := "/preview/" + st.ID

	resp := e.do(t, http.MethodPost, base+"/selection", map[string]string{"expression": "1-3"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[stateResp](t, resp); got.Selection.Count != 3 || got.Plan.TotalSheets != 3 {
		t.Fatalf("selection = %+v", got.Selection)
	}

	tests := []struct {
		expr string
		code string
	}{
		{"7", "PAGE_OUT_OF_BOUNDS"},
		{"1-x", "INVALID_TOKEN"},
		{"4-2", "INVALID_RANGE"},
	}
	for _, tt := range tests {
		resp := e.do(t, http.MethodPost, base+"/selection", map[string]string{"expression": tt.expr}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: status = %d", tt.expr, resp.StatusCode)
		}
		body := decode[errorBody](t, resp)
		if body.Code != tt.code || !body.Retryable {
			t.Errorf("%q: body = %+v, want code %s", tt.expr, body, tt.code)
		}
	}

	got := decode[stateResp](t, e.do(t, http.MethodGet, base, nil, nil))
	if got.Selection.Count != 3 || got.Plan.TotalSheets != 3 {
		t.Errorf("previous selection lost: %+v", got.Selection)
	}
	if got.Selection.Validation == nil || got.Selection.Validation.Code != "INVALID_RANGE" {
		t.Errorf("validation = %+v", got.Selection.Validation)
	}
}

func TestToggleLastPageRejected(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 3)
	base := "/preview/" + st.ID
	e.do(t, http.MethodPost, base+"/selection", map[string]string{"expression": "2"}, nil)

	resp := e.do(t, http.MethodPost, base+"/toggle", map[string]int{"page": 2}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if decode[errorBody](t, resp).Code != "EMPTY_SELECTION_REJECTED" {
		t.Error("wrong code")
	}

	resp = e.do(t, http.MethodPost, base+"/toggle", map[string]int{"page": 3}, nil)
	got := decode[stateResp](t, resp)
	if got.Selection.Expression != "2-3" || got.Selection.Count != 2 {
		t.Errorf("selection = %+v", got.Selection)
	}
}

func TestSettingsOrientationLock(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 4)
	base := "/preview/" + st.ID

	resp := e.do(t, http.MethodPost, base+"/settings", map[string]any{"pages_per_sheet": 2}, nil)
	got := decode[stateResp](t, resp)
	if !got.Settings.OrientationLocked || got.Settings.EffectiveOrientation != "landscape" || got.Plan.TotalSheets != 2 {
		t.Fatalf("settings = %+v plan = %+v", got.Settings, got.Plan)
	}

	resp = e.do(t, http.MethodPost, base+"/settings", map[string]any{"orientation": "landscape"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("locked orientation status = %d", resp.StatusCode)
	}

	// leaving 2-up in the same request as the orientation change succeeds
	resp = e.do(t, http.MethodPost, base+"/settings", map[string]any{"pages_per_sheet": 4, "orientation": "landscape"}, nil)
	got = decode[stateResp](t, resp)
	if got.Settings.OrientationLocked || got.Settings.EffectiveOrientation != "landscape" || got.Plan.TotalSheets != 1 {
		t.Fatalf("settings = %+v", got.Settings)
	}

	resp = e.do(t, http.MethodPost, base+"/settings", map[string]any{"pages_per_sheet": 3}, nil)
	if resp.StatusCode != http.StatusBadRequest || decode[errorBody](t, resp).Code != "INVALID_SETTINGS" {
		t.Errorf("invalid pages per sheet accepted")
	}
}

func TestNavigate(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 4)
	base := "/preview/" + st.ID

	type navResp struct {
		Moved bool      `json:"moved"`
		State stateResp `json:"state"`
	}
	got := decode[navResp](t, e.do(t, http.MethodPost, base+"/navigate", navigateReq{Action: "goto", Sheet: 3}, nil))
	if !got.Moved || got.State.Navigation.Current != 3 {
		t.Fatalf("goto = %+v", got)
	}
	got = decode[navResp](t, e.do(t, http.MethodPost, base+"/navigate", navigateReq{Action: "next"}, nil))
	if !got.Moved || got.State.Navigation.Current != 4 {
		t.Fatalf("next = %+v", got)
	}
	got = decode[navResp](t, e.do(t, http.MethodPost, base+"/navigate", navigateReq{Action: "next"}, nil))
	if got.Moved || got.State.Navigation.Current != 4 {
		t.Fatalf("next past end = %+v", got)
	}

	resp := e.do(t, http.MethodPost, base+"/navigate", navigateReq{Action: "jump"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown action status = %d", resp.StatusCode)
	}
}

func TestViewportImmediate(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 2)
	base := "/preview/" + st.ID

	body := map[string]any{"window": map[string]float64{"width": 600, "height": 900}, "dpr": 2, "immediate": true}
	got := decode[stateResp](t, e.do(t, http.MethodPost, base+"/viewport", body, nil))
	if got.Navigation.Mode != "strip" || got.Navigation.Axis != "horizontal" {
		t.Fatalf("navigation = %+v", got.Navigation)
	}

	resp := e.do(t, http.MethodPost, base+"/viewport", map[string]any{"window": map[string]float64{"width": 1400, "height": 900}}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("debounced status = %d", resp.StatusCode)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got = decode[stateResp](t, e.do(t, http.MethodGet, base, nil, nil))
		if got.Navigation.Mode == "single" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("debounced resize never applied: %+v", got.Navigation)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSlotJPEG(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 2)
	sess, err := e.reg.Get(st.ID)
	if err != nil {
		t.Fatal(err)
	}
	sess.Wait()

	resp := e.do(t, http.MethodGet, "/preview/"+st.ID+"/sheets/1/slots/1", nil, nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("status = %d type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Page") != "1" {
		t.Errorf("X-Page = %q", resp.Header.Get("X-Page"))
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if img.Bounds().Dx() == 0 {
		t.Error("empty image")
	}

	if resp := e.do(t, http.MethodGet, "/preview/"+st.ID+"/sheets/1/slots/2", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing slot status = %d", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, "/preview/"+st.ID+"/sheets/x/slots/1", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad sheet status = %d", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 4)
	sess, err := e.reg.Get(st.ID)
	if err != nil {
		t.Fatal(err)
	}
	sess.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.ts.URL+"/preview/"+st.ID+"/events", nil)
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); resp.StatusCode != http.StatusOK || ct != "text/event-stream" {
		t.Fatalf("status = %d content-type = %q", resp.StatusCode, ct)
	}
	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() || sc.Text() != ": subscribed" {
		t.Fatalf("first line = %q", sc.Text())
	}

	e.do(t, http.MethodPost, "/preview/"+st.ID+"/settings", map[string]any{"pages_per_sheet": 4}, nil)

	var ev struct {
		Sheet int    `json:"sheet"`
		Slot  int    `json:"slot"`
		Page  int    `json:"page"`
		State string `json:"state"`
	}
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatal(err)
		}
		break
	}
	if ev.Sheet != 1 || ev.Slot < 1 || ev.Slot > 4 || ev.Page < 1 || ev.State != "rendered" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSubmitChargesQuota(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 4)
	base := "/preview/" + st.ID
	e.do(t, http.MethodPost, base+"/settings", map[string]any{"copies": 2}, nil)

	user := map[string]string{"X-User-ID": "u1"}
	resp := e.do(t, http.MethodPost, base+"/submit", nil, user)
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, b)
	}
	receipt := decode[jobs.Receipt](t, resp)
	if receipt.Sheets != 8 || receipt.Remaining != 92 || receipt.JobID == "" {
		t.Fatalf("receipt = %+v", receipt)
	}

	q := decode[jobs.Quota](t, e.do(t, http.MethodGet, "/quota", nil, user))
	if q.Used != 8 || q.Remaining != 92 {
		t.Errorf("quota = %+v", q)
	}

	type histResp struct {
		Jobs []struct {
			ID     string `json:"id"`
			File   string `json:"file"`
			Sheets int    `json:"sheets"`
		} `json:"jobs"`
	}
	hist := decode[histResp](t, e.do(t, http.MethodGet, "/jobs?limit=5", nil, user))
	if len(hist.Jobs) != 1 || hist.Jobs[0].ID != receipt.JobID || hist.Jobs[0].File != "handout.pdf" {
		t.Errorf("history = %+v", hist.Jobs)
	}
}

func TestCancelJob(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 2)
	user := map[string]string{"X-User-ID": "u3"}
	resp := e.do(t, http.MethodPost, "/preview/"+st.ID+"/submit", nil, user)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	receipt := decode[jobs.Receipt](t, resp)

	other := map[string]string{"X-User-ID": "u4"}
	if resp := e.do(t, http.MethodGet, "/jobs/"+receipt.JobID, nil, other); resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign lookup status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPost, "/jobs/"+receipt.JobID+"/cancel", nil, user)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	type jobResp struct {
		Status string `json:"status"`
	}
	if got := decode[jobResp](t, resp); got.Status != "cancelled" {
		t.Errorf("status = %q", got.Status)
	}
	resp = e.do(t, http.MethodPost, "/jobs/"+receipt.JobID+"/cancel", nil, user)
	if resp.StatusCode != http.StatusConflict || decode[errorBody](t, resp).Code != "JOB_NOT_CANCELLABLE" {
		t.Errorf("second cancel status = %d", resp.StatusCode)
	}
	if got := decode[jobResp](t, e.do(t, http.MethodGet, "/jobs/"+receipt.JobID, nil, user)); got.Status != "cancelled" {
		t.Errorf("stored status = %q", got.Status)
	}
}

func TestSubmitRejectedByQuota(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 4)
	if err := e.jobs.Quota.SetLimit(context.Background(), "u2", 3); err != nil {
		t.Fatal(err)
	}

	resp := e.do(t, http.MethodPost, "/preview/"+st.ID+"/submit", map[string]string{"user_id": "u2"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Code != "QUOTA_EXCEEDED" || body.Required != 4 || body.Remaining == nil || *body.Remaining != 3 {
		t.Errorf("body = %+v", body)
	}
}

func TestSubmitRequiresUser(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 1)
	resp := e.do(t, http.MethodPost, "/preview/"+st.ID+"/submit", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 1)
	resp, err := http.Post(e.ts.URL+"/preview/"+st.ID+"/submit", "application/json", strings.NewReader(`{"user_id":`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[errorBody](t, resp); got.Error != "invalid json" {
		t.Fatalf("error = %+v", got)
	}
}

func TestSubmitWithoutDocument(t *testing.T) {
	e := newEnv(t)
	st := decode[stateResp](t, e.do(t, http.MethodPost, "/preview", nil, nil))
	resp := e.do(t, http.MethodPost, "/preview/"+st.ID+"/submit", nil, map[string]string{"X-User-ID": "u1"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 1)
	if resp := e.do(t, http.MethodDelete, "/preview/"+st.ID, nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, "/preview/"+st.ID, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete status = %d", resp.StatusCode)
	}
}

func TestUnloadDocument(t *testing.T) {
	e := newEnv(t)
	st := e.upload(t, 2)
	got := decode[stateResp](t, e.do(t, http.MethodDelete, "/preview/"+st.ID+"/document", nil, nil))
	if got.Status != preview.StatusIdle || got.Plan != nil {
		t.Fatalf("state = %+v", got)
	}
	resp := e.do(t, http.MethodPost, "/preview/"+st.ID+"/selection", map[string]string{"expression": "1"}, nil)
	if resp.StatusCode != http.StatusConflict || !strings.Contains(decode[errorBody](t, resp).Code, "NO_DOCUMENT") {
		t.Errorf("selection without document status = %d", resp.StatusCode)
	}
}
