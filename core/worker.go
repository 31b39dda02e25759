package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvalidationWorker drains the invalidation queue with a fixed number of goroutines.
type InvalidationWorker struct {
	Queue       Queue
	Processor   *InvalidationProcessor
	State       *HeartbeatState // optional
	Concurrency int
	Visibility  time.Duration
	// ReclaimInterval controls how often expired reservations are requeued.
	ReclaimInterval time.Duration
	// IdleWait is the pause after finding the queue empty.
	IdleWait time.Duration
	// RetryBackoff is multiplied by the attempt number before a failed job is re-enqueued.
	RetryBackoff time.Duration
}

// Run blocks until ctx is cancelled.
func (w *InvalidationWorker) Run(ctx context.Context) {
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if w.Visibility <= 0 {
		w.Visibility = DefaultVisibilityTimeout
	}
	if w.ReclaimInterval <= 0 {
		w.ReclaimInterval = 15 * time.Second
	}
	if w.IdleWait <= 0 {
		w.IdleWait = 100 * time.Millisecond
	}
	if w.RetryBackoff <= 0 {
		w.RetryBackoff = DefaultRetryBackoff
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaim(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i + 1)
	}
	wg.Wait()
}

func (w *InvalidationWorker) reclaim(ctx context.Context) {
	ticker := time.NewTicker(w.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := w.Queue.RequeueExpired(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("requeue expired invalidations failed", "error", err)
				}
				continue
			}
			if len(jobs) > 0 {
				slog.Info("requeued expired invalidations", "count", len(jobs))
			}
		}
	}
}

func (w *InvalidationWorker) loop(ctx context.Context, id int) {
	for {
		raw, err := w.Queue.Reserve(ctx, w.Visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				slog.Warn("reserve invalidation failed", "worker", id, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.IdleWait):
				continue
			}
		}
		w.handle(ctx, id, raw)
	}
}

func (w *InvalidationWorker) handle(ctx context.Context, id int, raw string) {
	if w.State != nil {
		w.State.JobStarted()
	}
	job, err := w.Processor.Process(ctx, raw)
	if w.State != nil {
		w.State.JobFinished(err)
	}

	switch {
	case err == nil:
		slog.Info("invalidation applied", "worker", id, "job", job.ID, "realm", job.Realm, "principal", job.Principal)
	case IsPermanent(err):
		slog.Warn("invalidation dropped", "worker", id, "job", job.ID, "error", err)
	default:
		job.Attempts++
		if job.Attempts >= MaxInvalidationAttempts {
			slog.Error("invalidation failed after retries", "worker", id, "job", job.ID, "attempts", job.Attempts, "error", err)
			break
		}
		data, mErr := json.Marshal(job)
		if mErr != nil {
			slog.Error("encode invalidation retry failed", "worker", id, "job", job.ID, "error", mErr)
			break
		}
		slog.Warn("invalidation retry scheduled", "worker", id, "job", job.ID, "attempts", job.Attempts, "error", err)
		if !sleepCtx(ctx, time.Duration(job.Attempts)*w.RetryBackoff) {
			// still reserved; RequeueExpired hands it back after the visibility timeout
			return
		}
		if qErr := w.Queue.Enqueue(ctx, string(data)); qErr != nil {
			slog.Error("re-enqueue invalidation failed", "worker", id, "job", job.ID, "error", qErr)
			return
		}
	}

	if err := w.Queue.Ack(ctx, raw); err != nil {
		slog.Warn("ack invalidation failed", "worker", id, "job", job.ID, "error", err)
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
