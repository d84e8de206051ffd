package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/consumption"
	"github.com/local/printpreview/internal/imposition"
	"github.com/local/printpreview/internal/metrics"
	"github.com/local/printpreview/internal/pagerange"
	"github.com/local/printpreview/internal/queue"
	"github.com/local/printpreview/internal/store"
)

// PageCounter reports the page count of a spooled file.
type PageCounter func(path string) (int, error)

// Service is the submission, quota and history backend.
type Service struct {
	Queue  *queue.RedisQueue
	Jobs   *store.RedisJobs
	Quota  *QuotaStore
	Counts PageCounter
	now    func() time.Time
}

func NewService(c *redis.Client, stream string, quotaLimit int, counts PageCounter) *Service {
	return &Service{
		Queue:  queue.NewRedisQueue(c, stream),
		Jobs:   store.NewRedisJobs(c),
		Quota:  NewQuotaStore(c, quotaLimit),
		Counts: counts,
		now:    time.Now,
	}
}

// Sheets recomputes physical sheet consumption for sub from the file itself,
// the same way the preview does.
func (s *Service) Sheets(sub Submission) (int, error) {
	if s.Counts == nil || sub.FilePath == "" {
		return 0, fmt.Errorf("%w: page count unavailable", ErrInvalidSubmission)
	}
	total, err := s.Counts(sub.FilePath)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	sel, err := pagerange.Parse(sub.PageRanges, total)
	if err != nil {
		return 0, err
	}
	plan, err := imposition.Build(sel, sub.Config())
	if err != nil {
		return 0, err
	}
	est, ok := consumption.Calculate(plan, sub.Duplex, sub.Copies)
	if !ok {
		return 0, pagerange.ErrNoDocumentLoaded
	}
	return est.Total, nil
}

// Submit validates sub, charges sheets against the user's quota and queues the
// job. When the file can be counted the server-side figure replaces sheets.
func (s *Service) Submit(ctx context.Context, sub Submission, sheets int) (Receipt, error) {
	if err := sub.Validate(); err != nil {
		metrics.ObserveSubmission("error", 0)
		return Receipt{}, err
	}
	if s.Counts != nil && sub.FilePath != "" {
		computed, err := s.Sheets(sub)
		if err != nil {
			metrics.ObserveSubmission("error", 0)
			return Receipt{}, err
		}
		if computed != sheets {
			log.Warn().Str("user_id", sub.UserID).Int("client", sheets).Int("server", computed).Msg("sheet estimate mismatch, using server value")
		}
		sheets = computed
	}
	if sheets < 1 {
		metrics.ObserveSubmission("error", 0)
		return Receipt{}, fmt.Errorf("%w: no sheets to print", ErrInvalidSubmission)
	}

	ok, quota, err := s.Quota.Consume(ctx, sub.UserID, sheets)
	if err != nil {
		metrics.ObserveSubmission("error", 0)
		return Receipt{}, err
	}
	if !ok {
		metrics.ObserveSubmission("rejected", 0)
		log.Info().Str("user_id", sub.UserID).Int("sheets", sheets).Int("remaining", quota.Remaining).Msg("quota exceeded")
		return Receipt{}, &RejectedError{Reason: "insufficient quota", Required: sheets, Remaining: quota.Remaining}
	}

	rec := store.JobRecord{
		ID:            uuid.NewString(),
		UserID:        sub.UserID,
		File:          sub.File,
		FilePath:      sub.FilePath,
		Copies:        max(1, sub.Copies),
		PagesPerSheet: sub.PagesPerSheet,
		Duplex:        sub.Duplex,
		Orientation:   string(sub.Orientation),
		PageRanges:    sub.PageRanges,
		Sheets:        sheets,
		Status:        store.StatusQueued,
		Options:       PrintOptions(sub),
		CreatedAt:     s.now().UTC(),
	}
	// the worker needs the spooled path, which the public record hides
	payload, err := json.Marshal(struct {
		store.JobRecord
		FilePath string `json:"file_path"`
	}{rec, rec.FilePath})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal job: %w", err)
	}
	streamID, err := s.Queue.Enqueue(ctx, rec.ID, payload)
	if err != nil {
		if rerr := s.Quota.Refund(ctx, sub.UserID, sheets); rerr != nil {
			log.Error().Err(rerr).Str("user_id", sub.UserID).Int("sheets", sheets).Msg("failed to refund quota")
		}
		metrics.ObserveSubmission("error", 0)
		return Receipt{}, fmt.Errorf("enqueue job: %w", err)
	}
	rec.StreamID = streamID
	if err := s.Jobs.Save(ctx, rec); err != nil {
		log.Error().Err(err).Str("job_id", rec.ID).Msg("failed to store job record")
	}

	metrics.ObserveSubmission("accepted", sheets)
	log.Info().
		Str("job_id", rec.ID).
		Str("user_id", sub.UserID).
		Str("file", sub.File).
		Int("sheets", sheets).
		Int("remaining", quota.Remaining).
		Msg("print job queued")

	return Receipt{
		JobID:       rec.ID,
		StreamID:    streamID,
		Sheets:      sheets,
		Remaining:   quota.Remaining,
		SubmittedAt: rec.CreatedAt,
	}, nil
}

// CurrentQuota returns the user's quota for this month.
func (s *Service) CurrentQuota(ctx context.Context, userID string) (Quota, error) {
	return s.Quota.Current(ctx, userID)
}

// History lists the user's jobs, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]store.JobRecord, error) {
	return s.Jobs.History(ctx, userID, limit)
}

// Job returns one of the user's jobs. Jobs owned by someone else are reported
// as not found.
func (s *Service) Job(ctx context.Context, userID, jobID string) (store.JobRecord, error) {
	rec, ok, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return store.JobRecord{}, err
	}
	if !ok || rec.UserID != userID {
		return store.JobRecord{}, ErrJobNotFound
	}
	return rec, nil
}

// Cancel marks a queued job as cancelled. Sheets already charged stay charged.
func (s *Service) Cancel(ctx context.Context, userID, jobID string) (store.JobRecord, error) {
	rec, err := s.Job(ctx, userID, jobID)
	if err != nil {
		return store.JobRecord{}, err
	}
	if rec.Status != store.StatusQueued {
		return rec, fmt.Errorf("%w: %s", ErrNotCancellable, rec.Status)
	}
	if err := s.Jobs.SetStatus(ctx, jobID, store.StatusCancelled); err != nil {
		return store.JobRecord{}, fmt.Errorf("cancel job: %w", err)
	}
	rec.Status = store.StatusCancelled
	log.Info().Str("job_id", jobID).Str("user_id", userID).Msg("print job cancelled")
	return rec, nil
}
