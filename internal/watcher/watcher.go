package watcher

import (
	"context"
	"log"
	"time"

	"github.com/alejo-valencia/onefinance/internal/config"
	"github.com/alejo-valencia/onefinance/internal/models"
	"github.com/alejo-valencia/onefinance/internal/service"
)

// JobCreator creates and inspects processing jobs.
type JobCreator interface {
	Create(ctx context.Context, batchLimit int) (*models.ProcessingJob, error)
	HasActive(ctx context.Context, maxAge time.Duration) (bool, error)
}

// jobActiveSlack pads the batch budget when deciding whether an existing job
// still counts as active; anything older is an orphan.
const jobActiveSlack = 2 * time.Minute

// MessageCounter exposes the live unprocessed backlog.
type MessageCounter interface {
	CountUnprocessed(ctx context.Context) (int, error)
}

// Processor runs one batch against a pending job.
type Processor interface {
	Run(ctx context.Context, jobID string, limit int) (*service.BatchResult, error)
}

// Detector runs one internal-movement pass.
type Detector interface {
	Run(ctx context.Context) (*service.MovementResult, error)
}

// SyncPoller reads sync status; reading also finalizes a drained run.
type SyncPoller interface {
	Status(ctx context.Context) (*models.SyncStatus, error)
}

// Watcher is the scheduled half of the pipeline: every poll interval it
// starts a processing run when a backlog exists and no run is active, then
// runs the internal-movement pass. A scheduled run racing a manual HTTP
// trigger is expected; the per-message claim protocol makes the overlap
// harmless.
type Watcher struct {
	cfg       *config.Config
	jobs      JobCreator
	messages  MessageCounter
	processor Processor
	detector  Detector
	sync      SyncPoller
}

func New(
	cfg *config.Config,
	jobs JobCreator,
	messages MessageCounter,
	processor Processor,
	detector Detector,
	sync SyncPoller,
) *Watcher {
	return &Watcher{
		cfg:       cfg,
		jobs:      jobs,
		messages:  messages,
		processor: processor,
		detector:  detector,
		sync:      sync,
	}
}

// Start begins the poll loop and blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for message processing...")

	// Pick up any backlog left over from previous runs
	if err := w.pass(ctx); err != nil {
		log.Printf("Warning: startup pass failed: %v", err)
	}

	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if err := w.pass(ctx); err != nil {
				log.Printf("Error in watcher pass: %v", err)
			}
		}
	}
}

// pass runs one scheduled iteration: finalize a drained sync, process the
// backlog, then reconcile internal movements.
func (w *Watcher) pass(ctx context.Context) error {
	if _, err := w.sync.Status(ctx); err != nil {
		log.Printf("Warning: failed to refresh sync status: %v", err)
	}

	count, err := w.messages.CountUnprocessed(ctx)
	if err != nil {
		return err
	}

	if count > 0 {
		active, err := w.jobs.HasActive(ctx, w.cfg.BatchBudget+jobActiveSlack)
		if err != nil {
			return err
		}
		if active {
			log.Println("A processing job is already active, skipping scheduled run")
		} else {
			job, err := w.jobs.Create(ctx, w.cfg.BatchLimit)
			if err != nil {
				return err
			}
			log.Printf("Scheduled processing run %s for %d unprocessed message(s)", job.ID, count)
			if _, err := w.processor.Run(ctx, job.ID, job.BatchLimit); err != nil {
				log.Printf("Scheduled run %s failed: %v", job.ID, err)
			}
		}
	}

	if _, err := w.detector.Run(ctx); err != nil {
		log.Printf("Internal-movement pass failed: %v", err)
	}
	return nil
}
