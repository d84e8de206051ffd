// Package limiter throttles work per key: a Redis-backed cooldown that backs
// off exponentially after repeated failures, and local in-flight slots.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	mu  sync.Mutex
	sem map[string]chan struct{}
}

type Options struct {
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// New returns a limiter. A nil client disables cooldowns; in-flight slots
// still apply.
func New(rdb *redis.Client, opts Options) *Adaptive {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	return &Adaptive{
		rdb:         rdb,
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		now:         time.Now,
		sem:         map[string]chan struct{}{},
	}
}

func (a *Adaptive) key(scope, name string) string {
	return fmt.Sprintf("cooldown:%s:%s", strings.ToLower(scope), strings.ToLower(name))
}

// RetryAfter returns how long the cooldown for scope/name still runs, or 0.
func (a *Adaptive) RetryAfter(ctx context.Context, scope, name string) time.Duration {
	if a.rdb == nil {
		return 0
	}
	until, err := a.rdb.Get(ctx, a.key(scope, name)).Int64()
	if err != nil {
		return 0
	}
	left := time.Unix(until, 0).Sub(a.now())
	if left <= 0 {
		return 0
	}
	return left
}

// Open starts or extends the cooldown. The backoff doubles with every
// consecutive failure up to the maximum and is returned.
func (a *Adaptive) Open(ctx context.Context, scope, name string) time.Duration {
	if a.rdb == nil {
		return 0
	}
	k := a.key(scope, name)
	attempts, err := a.rdb.Incr(ctx, k+":attempts").Result()
	if err != nil {
		log.Warn().Err(err).Str("key", k).Msg("cooldown counter failed")
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	d := a.baseBackoff
	for i := int64(1); i < attempts && d < a.maxBackoff; i++ {
		d *= 2
	}
	d = min(d, a.maxBackoff)
	until := a.now().Add(d).Unix()
	pipe := a.rdb.TxPipeline()
	pipe.Set(ctx, k, until, d)
	pipe.Expire(ctx, k+":attempts", 2*a.maxBackoff)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("key", k).Msg("cooldown write failed")
	}
	log.Warn().Str("scope", scope).Str("name", name).Int64("failures", attempts).Dur("backoff", d).Msg("cooldown opened")
	return d
}

// Close clears the cooldown and its failure count.
func (a *Adaptive) Close(ctx context.Context, scope, name string) {
	if a.rdb == nil {
		return
	}
	k := a.key(scope, name)
	_ = a.rdb.Del(ctx, k, k+":attempts").Err()
}

// Allow tries to reserve a local in-process slot for scope:name.
// Returns a release function and true if allowed; otherwise a no-op and false.
// A key is forgotten once its last slot is released.
func (a *Adaptive) Allow(scope, name string) (func(), bool) {
	key := strings.ToLower(scope) + ":" + strings.ToLower(name)
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	select {
	case ch <- struct{}{}:
	default:
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			<-ch
			if len(ch) == 0 {
				delete(a.sem, key)
			}
		})
	}, true
}
