package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/geocoder89/bloghub/internal/domain/job"
	"github.com/geocoder89/bloghub/internal/notifications"
	"github.com/geocoder89/bloghub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration

	// jobs stuck in processing longer than this get requeued
	StaleLockTTL time.Duration
}

type Worker struct {
	cfg      Config
	repo     JobsRepository
	notifier notifications.Notifier
	prom     *observability.Prom

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, notifier notifications.Notifier, prom *observability.Prom) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.StaleLockTTL <= 0 {
		cfg.StaleLockTTL = 5 * time.Minute
	}
	return &Worker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		prom:     prom,
	}
}

// Run polls for pending jobs until ctx is cancelled. Each poll loop claims
// one job at a time so a slow notification never blocks the other loops.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.pollLoop(ctx, slot)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.requeueLoop(ctx)
	}()

	wg.Wait()
	log.Println("worker received shutdown signal")
	return nil
}

func (w *Worker) pollLoop(ctx context.Context, slot int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain: keep claiming until the queue is empty
			for {
				claimed, err := w.ProcessOne(ctx)
				if err != nil {
					log.Printf("worker slot=%d process error: %v", slot, err)
					break
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// requeueLoop releases jobs whose owner died mid-processing.
func (w *Worker) requeueLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StaleLockTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.StaleLockTTL)
			if err != nil {
				log.Printf("requeue stale error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("requeued %d stale processing jobs", n)
			}
		}
	}
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}
