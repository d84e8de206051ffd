package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	renderPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printpreview",
			Name:      "render_passes_total",
			Help:      "Render passes by outcome (started, completed, stale)",
		},
		[]string{"outcome"},
	)

	slotsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printpreview",
			Name:      "slots_total",
			Help:      "Committed or discarded page slots by result",
		},
		[]string{"result"},
	)

	renderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "printpreview",
			Name:      "page_render_duration_seconds",
			Help:      "Duration of a single page rasterization",
			Buckets:   prometheus.DefBuckets,
		},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printpreview",
			Name:      "sessions_active",
			Help:      "Preview sessions currently held in memory",
		},
	)

	selectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printpreview",
			Name:      "selection_errors_total",
			Help:      "Rejected page range expressions by error kind",
		},
		[]string{"kind"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printpreview",
			Name:      "submissions_total",
			Help:      "Print job submissions by result (accepted, rejected, error)",
		},
		[]string{"result"},
	)

	sheetsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "printpreview",
			Name:      "sheets_submitted_total",
			Help:      "Physical sheets charged against quota by accepted jobs",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printpreview",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class",
		},
		[]string{"route", "code"},
	)
)

var initOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(renderPasses, slotsRendered, renderLatency, sessionsActive,
			selectionErrors, submissions, sheetsSubmitted, httpRequests)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func PassStarted()   { renderPasses.WithLabelValues("started").Inc() }
func PassCompleted() { renderPasses.WithLabelValues("completed").Inc() }
func PassStale()     { renderPasses.WithLabelValues("stale").Inc() }

// ObserveSlot records one slot outcome: rendered, failed or discarded.
func ObserveSlot(result string, dur time.Duration) {
	slotsRendered.WithLabelValues(result).Inc()
	if dur > 0 {
		renderLatency.Observe(dur.Seconds())
	}
}

func SetSessions(n int)              { sessionsActive.Set(float64(n)) }
func IncSelectionError(kind string)  { selectionErrors.WithLabelValues(kind).Inc() }
func IncHTTP(route string, code int) { httpRequests.WithLabelValues(route, codeClass(code)).Inc() }

func ObserveSubmission(result string, sheets int) {
	submissions.WithLabelValues(result).Inc()
	if result == "accepted" && sheets > 0 {
		sheetsSubmitted.Add(float64(sheets))
	}
}

func codeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
