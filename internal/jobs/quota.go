package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultQuotaLimit = 100

// Quota is one user's allowance for a month, counted in physical sheets.
type Quota struct {
	Month     string `json:"month"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
}

// consumeScript checks and charges in one step so concurrent submissions
// cannot overdraw. KEYS are the month hash and the user's limit override.
// Returns {ok, remaining, limit, used}.
var consumeScript = redis.NewScript(`
local limit = tonumber(redis.call('GET', KEYS[2]) or ARGV[2])
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local want = tonumber(ARGV[1])
if used + want > limit then
  return {0, limit - used, limit, used}
end
redis.call('HSET', KEYS[1], 'limit', limit, 'used', used + want)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return {1, limit - used - want, limit, used + want}
`)

// QuotaStore keeps monthly usage in hashes quota:<user>:<YYYY-MM>. A
// per-user limit in quota:<user>:limit replaces the default for every month.
type QuotaStore struct {
	client       *redis.Client
	defaultLimit int
	retention    time.Duration
	now          func() time.Time
}

func NewQuotaStore(c *redis.Client, defaultLimit int) *QuotaStore {
	if defaultLimit <= 0 {
		defaultLimit = DefaultQuotaLimit
	}
	return &QuotaStore{client: c, defaultLimit: defaultLimit, retention: 62 * 24 * time.Hour, now: time.Now}
}

func (q *QuotaStore) month() string { return q.now().Format("2006-01") }

func (q *QuotaStore) key(userID, month string) string {
	return fmt.Sprintf("quota:%s:%s", userID, month)
}

func (q *QuotaStore) limitKey(userID string) string {
	return fmt.Sprintf("quota:%s:limit", userID)
}

// SetLimit overrides the monthly limit for userID. A limit below zero
// removes the override.
func (q *QuotaStore) SetLimit(ctx context.Context, userID string, limit int) error {
	if limit < 0 {
		return q.client.Del(ctx, q.limitKey(userID)).Err()
	}
	return q.client.Set(ctx, q.limitKey(userID), limit, 0).Err()
}

// SetLimits applies overrides keyed by user id.
func (q *QuotaStore) SetLimits(ctx context.Context, limits map[string]int) error {
	for user, limit := range limits {
		if err := q.SetLimit(ctx, user, limit); err != nil {
			return fmt.Errorf("set quota for %s: %w", user, err)
		}
	}
	return nil
}

// Consume charges sheets if they fit in the remaining allowance.
func (q *QuotaStore) Consume(ctx context.Context, userID string, sheets int) (bool, Quota, error) {
	month := q.month()
	res, err := consumeScript.Run(ctx, q.client,
		[]string{q.key(userID, month), q.limitKey(userID)},
		sheets, q.defaultLimit, int(q.retention.Seconds()),
	).Int64Slice()
	if err != nil {
		return false, Quota{}, fmt.Errorf("consume quota: %w", err)
	}
	if len(res) != 4 {
		return false, Quota{}, fmt.Errorf("consume quota: unexpected reply %v", res)
	}
	quota := Quota{Month: month, Remaining: int(res[1]), Limit: int(res[2]), Used: int(res[3])}
	return res[0] == 1, quota, nil
}

// Current reports the month's quota without changing it.
func (q *QuotaStore) Current(ctx context.Context, userID string) (Quota, error) {
	month := q.month()
	pipe := q.client.Pipeline()
	limit := pipe.Get(ctx, q.limitKey(userID))
	used := pipe.HGet(ctx, q.key(userID, month), "used")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Quota{}, fmt.Errorf("read quota: %w", err)
	}
	quota := Quota{Month: month, Limit: q.defaultLimit}
	if n, err := limit.Int(); err == nil {
		quota.Limit = n
	}
	if n, err := used.Int(); err == nil {
		quota.Used = n
	}
	quota.Remaining = quota.Limit - quota.Used
	return quota, nil
}

// Refund returns sheets charged by a job that could not be queued.
func (q *QuotaStore) Refund(ctx context.Context, userID string, sheets int) error {
	return q.client.HIncrBy(ctx, q.key(userID, q.month()), "used", int64(-sheets)).Err()
}
