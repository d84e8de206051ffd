package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	StatusQueued    = "queued"
	StatusCancelled = "cancelled"
)

// JobRecord is the persisted view of a submitted print job.
type JobRecord struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	File          string            `json:"file"`
	FilePath      string            `json:"-"`
	Copies        int               `json:"copies"`
	PagesPerSheet int               `json:"pages_per_sheet"`
	Duplex        bool              `json:"duplex"`
	Orientation   string            `json:"orientation"`
	PageRanges    string            `json:"page_ranges,omitempty"`
	Sheets        int               `json:"sheets"`
	Status        string            `json:"status"`
	StreamID      string            `json:"stream_id,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// RedisJobs stores job records as hashes and keeps a per-user history list.
type RedisJobs struct {
	client     *redis.Client
	keyNS      string
	historyMax int64
}

func NewRedisJobs(c *redis.Client) *RedisJobs {
	return &RedisJobs{client: c, keyNS: "job", historyMax: 500}
}

func (s *RedisJobs) key(jobID string) string        { return fmt.Sprintf("%s:%s", s.keyNS, jobID) }
func (s *RedisJobs) historyKey(userID string) string { return fmt.Sprintf("user:%s:jobs", userID) }

// Save writes the record and prepends it to the user's history.
func (s *RedisJobs) Save(ctx context.Context, rec JobRecord) error {
	m := map[string]interface{}{
		"id":              rec.ID,
		"user_id":         rec.UserID,
		"file":            rec.File,
		"file_path":       rec.FilePath,
		"copies":          rec.Copies,
		"pages_per_sheet": rec.PagesPerSheet,
		"duplex":          strconv.FormatBool(rec.Duplex),
		"orientation":     rec.Orientation,
		"page_ranges":     rec.PageRanges,
		"sheets":          rec.Sheets,
		"status":          rec.Status,
		"stream_id":       rec.StreamID,
		"created_at":      rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if rec.Options != nil {
		b, _ := json.Marshal(rec.Options)
		m["options"] = string(b)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(rec.ID), m)
	pipe.LPush(ctx, s.historyKey(rec.UserID), rec.ID)
	pipe.LTrim(ctx, s.historyKey(rec.UserID), 0, s.historyMax-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisJobs) SetStatus(ctx context.Context, jobID, status string) error {
	return s.client.HSet(ctx, s.key(jobID), "status", status).Err()
}

func (s *RedisJobs) Get(ctx context.Context, jobID string) (JobRecord, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return JobRecord{}, false, err
	}
	if len(res) == 0 {
		return JobRecord{}, false, nil
	}
	return decodeJob(res), true, nil
}

// History returns up to limit records for userID, newest first.
func (s *RedisJobs) History(ctx context.Context, userID string, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.LRange(ctx, s.historyKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]JobRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func decodeJob(res map[string]string) JobRecord {
	rec := JobRecord{
		ID:          res["id"],
		UserID:      res["user_id"],
		File:        res["file"],
		FilePath:    res["file_path"],
		Orientation: res["orientation"],
		PageRanges:  res["page_ranges"],
		Status:      res["status"],
		StreamID:    res["stream_id"],
	}
	// ignore parse errors; fields default to zero
	rec.Copies, _ = strconv.Atoi(res["copies"])
	rec.PagesPerSheet, _ = strconv.Atoi(res["pages_per_sheet"])
	rec.Sheets, _ = strconv.Atoi(res["sheets"])
	rec.Duplex, _ = strconv.ParseBool(res["duplex"])
	if v := res["created_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.CreatedAt = t
		}
	}
	if v := res["options"]; v != "" {
		_ = json.Unmarshal([]byte(v), &rec.Options)
	}
	return rec
}
