package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/metrics"
)

var ErrSessionNotFound = errors.New("preview session not found")

type entry struct {
	s       *Session
	touched time.Time
}

// Registry keeps sessions in memory and expires idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	opts     Options
	idle     time.Duration
	now      func() time.Time
}

func NewRegistry(opts Options, idle time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		opts:     opts,
		idle:     idle,
		now:      time.Now,
	}
}

// Create starts a new idle session with a random id.
func (r *Registry) Create() *Session {
	s := NewSession(uuid.NewString(), r.opts)
	r.mu.Lock()
	r.sessions[s.ID()] = &entry{s: s, touched: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SetSessions(n)
	log.Debug().Str("session_id", s.ID()).Msg("preview session created")
	return s
}

// Get returns the session and marks it as used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.touched = r.now()
	return e.s, nil
}

// Remove closes and forgets the session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	metrics.SetSessions(n)
	e.s.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the idle timeout and returns how
// many were removed.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)
	var expired []*Session

	r.mu.Lock()
	for id, e := range r.sessions {
		if e.touched.Before(cutoff) {
			expired = append(expired, e.s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
		log.Info().Str("session_id", s.ID()).Msg("expired idle preview session")
	}
	if len(expired) > 0 {
		metrics.SetSessions(n)
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes all sessions.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range all {
		e.s.Close()
	}
	metrics.SetSessions(0)
}
