package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
)

const (
	batchSize   = 200
	bufferSize  = 1000
	ingestLimit = 15 * time.Second
)

type ingestFunc func(ctx context.Context, dataset string, events []axiom.Event) error

func axiomIngest(token, orgID string) (ingestFunc, error) {
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, dataset string, events []axiom.Event) error {
		_, err := c.IngestEvents(ctx, dataset, events)
		return err
	}, nil
}

// forwarder is a zerolog.LevelWriter that batches events for Axiom.
// Events below minLevel are dropped, as are events arriving while the buffer
// is full.
type forwarder struct {
	ingest   ingestFunc
	dataset  string
	service  string
	minLevel zerolog.Level

	ch   chan axiom.Event
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newForwarder(fn ingestFunc, dataset, service string, minLevel zerolog.Level, every time.Duration) *forwarder {
	if every <= 0 {
		every = 10 * time.Second
	}
	f := &forwarder{
		ingest:   fn,
		dataset:  dataset,
		service:  service,
		minLevel: minLevel,
		ch:       make(chan axiom.Event, bufferSize),
		done:     make(chan struct{}),
	}
	f.wg.Add(1)
	go f.loop(every)
	return f
}

func (f *forwarder) Write(p []byte) (int, error) {
	return f.WriteLevel(zerolog.NoLevel, p)
}

func (f *forwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < f.minLevel {
		return len(p), nil
	}
	ev := axiom.Event{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{"message": string(p)}
	}
	ev["service"] = f.service
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now().UTC()
	}
	select {
	case f.ch <- ev:
	default:
	}
	return len(p), nil
}

func (f *forwarder) loop(every time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	batch := make([]axiom.Event, 0, batchSize)
	for {
		select {
		case ev := <-f.ch:
			if batch = append(batch, ev); len(batch) >= batchSize {
				batch = f.flush(batch)
			}
		case <-ticker.C:
			batch = f.flush(batch)
		case <-f.done:
			for {
				select {
				case ev := <-f.ch:
					batch = append(batch, ev)
				default:
					f.flush(batch)
					return
				}
			}
		}
	}
}

func (f *forwarder) flush(batch []axiom.Event) []axiom.Event {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), ingestLimit)
	defer cancel()
	if err := f.ingest(ctx, f.dataset, batch); err != nil {
		// the logger itself cannot be used here
		fmt.Fprintf(os.Stderr, "axiom ingest failed: %v\n", err)
	}
	return batch[:0]
}

// Close drains buffered events and stops the flush loop.
func (f *forwarder) Close() {
	f.once.Do(func() { close(f.done) })
	f.wg.Wait()
}

