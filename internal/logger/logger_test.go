package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/rs/zerolog/log"
)

func TestSetupWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	if err := setup(Options{Level: "info"}, &buf, nil); err != nil {
		t.Fatal(err)
	}
	log.Debug().Msg("hidden")
	l := Session("abc")
	l.Info().Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["service"] != defaultService || ev["session_id"] != "abc" || ev["message"] != "visible" {
		t.Errorf("event = %v", ev)
	}
}

func TestSetupCreatesLogDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "app.log")
	var buf bytes.Buffer
	if err := setup(Options{Level: "debug", File: file, Service: "svc"}, &buf, nil); err != nil {
		t.Fatal(err)
	}
	log.Debug().Msg("to file")
	if !strings.Contains(buf.String(), `"service":"svc"`) {
		t.Errorf("console output = %q", buf.String())
	}
}

type captured struct {
	mu      sync.Mutex
	dataset string
	events  []axiom.Event
}

func (c *captured) ingest(_ context.Context, dataset string, events []axiom.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataset = dataset
	c.events = append(c.events, events...)
	return nil
}

func TestForwarderFiltersAndFlushesOnClose(t *testing.T) {
	c := &captured{}
	var buf bytes.Buffer
	err := setup(Options{
		Level:         "debug",
		Service:       "svc",
		AxiomMinLevel: "warn",
		AxiomFlush:    time.Hour,
	}, &buf, c.ingest)
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("local only")
	log.Warn().Str("sheet", "2").Msg("forwarded")
	Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dataset != "dev_svc" {
		t.Errorf("dataset = %q", c.dataset)
	}
	if len(c.events) != 1 {
		t.Fatalf("forwarded %d events, want 1", len(c.events))
	}
	ev := c.events[0]
	if ev["message"] != "forwarded" || ev["service"] != "svc" || ev["sheet"] != "2" {
		t.Errorf("event = %v", ev)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Errorf("console lines = %q", buf.String())
	}
}
