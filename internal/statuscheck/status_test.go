package statuscheck

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/printpreview/internal/queue"
)

type fakeBucket struct{ err error }

func (f fakeBucket) Ping(ctx context.Context, bucket string) error { return f.err }

func TestSummaryHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := queue.NewRedisQueue(client, "")
	if _, err := q.Enqueue(context.Background(), "job-1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	c := New(Options{
		Redis:    q,
		Queue:    q,
		S3:       fakeBucket{},
		S3Bucket: "prints",
		SpoolDir: filepath.Join(t.TempDir(), "spool"),
	})
	s := c.Summary(context.Background())
	if !s.Redis.OK || !s.Queue.OK || !s.S3.OK || !s.Spool.OK {
		t.Fatalf("summary = %+v", s)
	}
	if s.Queue.Message != "1 queued" {
		t.Errorf("queue message = %q", s.Queue.Message)
	}
	if !s.OK() {
		t.Error("expected OK")
	}
}

func TestSummaryFailures(t *testing.T) {
	c := New(Options{S3: fakeBucket{err: errors.New(strings.Repeat("x", 300))}, S3Bucket: "prints"})
	s := c.Summary(context.Background())
	if s.Redis.OK || s.Queue.OK || s.Spool.OK || s.S3.OK {
		t.Fatalf("summary = %+v", s)
	}
	if len(s.S3.Message) != 120 {
		t.Errorf("error message not trimmed: %d", len(s.S3.Message))
	}
	if s.OK() {
		t.Error("expected not OK")
	}
}

func TestS3NotConfigured(t *testing.T) {
	s := New(Options{}).Summary(context.Background())
	if s.S3.OK || s.S3.Message != "Bucket not configured" {
		t.Errorf("s3 = %+v", s.S3)
	}
}
