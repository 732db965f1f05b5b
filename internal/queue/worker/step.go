package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/geocoder89/bloghub/internal/domain/job"
	"github.com/geocoder89/bloghub/internal/jobs"
	"github.com/geocoder89/bloghub/internal/notifications"
)

// ProcessOne claims and runs a single pending job. The first return value
// reports whether a job was claimed at all, so callers can drain the queue
// and back off when it comes up empty.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	start := time.Now()
	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
	}

	err = w.execute(ctx, j)

	if w.prom != nil {
		w.prom.JobsInFlight.Dec()
	}

	if err != nil {
		w.handleFailure(ctx, j, err, time.Since(start))
		return true, nil
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	w.observe(j.Type, "done", time.Since(start))
	log.Printf("job done id=%s type=%s attempts=%d", j.ID, j.Type, j.Attempts)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	payload, err := jobs.DecodePayload(j)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case jobs.UserWelcomePayload:
		return w.notifier.SendWelcome(ctx, notifications.SendWelcomeInput{
			UserID:   p.UserID,
			Username: p.Username,
			Email:    p.Email,
		})
	default:
		return fmt.Errorf("%w: %s", jobs.ErrInvalidJobType, j.Type)
	}
}

// handleFailure reschedules with backoff until the attempt budget is spent,
// then parks the job as failed for the admin surface to retry.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error, took time.Duration) {
	// permanently malformed jobs never succeed on retry
	permanent := errors.Is(execErr, jobs.ErrInvalidJobType) ||
		errors.Is(execErr, jobs.ErrInvalidJobPayload)

	// This run consumed attempt j.Attempts+1. Rescheduling past the budget
	// would strand the row: the claim query skips attempts >= max_attempts,
	// so it must be parked as failed for the admin surface instead.
	exhausted := j.Attempts+1 >= j.MaxAttempts

	if permanent || exhausted {
		if err := w.repo.MarkFailed(ctx, j.ID, execErr.Error()); err != nil {
			log.Printf("mark failed error id=%s: %v", j.ID, err)
		}
		w.observe(j.Type, "failed", took)
		log.Printf("job failed id=%s type=%s attempts=%d err=%v", j.ID, j.Type, j.Attempts, execErr)
		return
	}

	runAt := time.Now().Add(ExponentialBackoff(j.Attempts))
	if err := w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		log.Printf("reschedule error id=%s: %v", j.ID, err)
		return
	}
	w.observe(j.Type, "retry", took)
	log.Printf("job retry id=%s type=%s attempt=%d next=%s err=%v",
		j.ID, j.Type, j.Attempts, runAt.Format(time.RFC3339), execErr)
}

func (w *Worker) observe(jobType, result string, took time.Duration) {
	if w.prom == nil {
		return
	}
	w.prom.JobDuration.WithLabelValues(jobType, result).Observe(took.Seconds())
	w.prom.JobResults.WithLabelValues(jobType, result).Inc()
}
