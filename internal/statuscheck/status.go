package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// QueueDepth reports how many jobs wait in the print stream.
type QueueDepth interface {
	Depth(ctx context.Context) (int64, error)
}

// BucketPinger checks access to an S3 bucket.
type BucketPinger interface {
	Ping(ctx context.Context, bucket string) error
}

// Checker aggregates health checks for the dependencies the preview service uses.
type Checker struct {
	redis    RedisPinger
	queue    QueueDepth
	s3       BucketPinger
	s3Bucket string
	spoolDir string
}

// Options configures the Checker.
type Options struct {
	Redis    RedisPinger
	Queue    QueueDepth
	S3       BucketPinger
	S3Bucket string
	SpoolDir string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis Status `json:"redis"`
	Queue Status `json:"queue"`
	S3    Status `json:"s3"`
	Spool Status `json:"spool"`
}

// OK reports whether the components required to preview and submit are up.
// S3 is optional: uploads work without it.
func (s Summary) OK() bool { return s.Redis.OK && s.Spool.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{
		redis:    opts.Redis,
		queue:    opts.Queue,
		s3:       opts.S3,
		s3Bucket: opts.S3Bucket,
		spoolDir: opts.SpoolDir,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis: c.checkRedis(ctx),
		Queue: c.checkQueue(ctx),
		S3:    c.checkS3(ctx),
		Spool: c.checkSpool(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkQueue(ctx context.Context) Status {
	if c.queue == nil {
		return Status{OK: false, Message: "queue unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := c.queue.Depth(ctx)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: fmt.Sprintf("%d queued", n)}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3 == nil || c.s3Bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.s3.Ping(ctx, c.s3Bucket); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkSpool() Status {
	if c.spoolDir == "" {
		return Status{OK: false, Message: "Spool dir not configured"}
	}
	if err := os.MkdirAll(c.spoolDir, 0o755); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	f, err := os.CreateTemp(c.spoolDir, ".writable-*")
	if err != nil {
		return Status{OK: false, Message: "not writable"}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return Status{OK: true, Message: "Writable"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
