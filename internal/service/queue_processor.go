package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alejo-valencia/onefinance/internal/classifier"
	"github.com/alejo-valencia/onefinance/internal/database"
	"github.com/alejo-valencia/onefinance/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MessageStore is the slice of the message repository the processor needs.
type MessageStore interface {
	GetUnprocessed(ctx context.Context, limit int) ([]models.Message, error)
	CountUnprocessed(ctx context.Context) (int, error)
	TryClaim(ctx context.Context, id string, now time.Time, lockTimeout time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, id string, reason string) error
	MarkProcessed(ctx context.Context, id string) error
}

// TransactionCreator writes transaction records.
type TransactionCreator interface {
	Create(ctx context.Context, tx models.Transaction) error
}

// JobStore tracks the processing run's state machine.
type JobStore interface {
	MarkRunning(ctx context.Context, id string, total int) error
	UpdateProgress(ctx context.Context, id string, processed int, currentMessage *string) error
	Complete(ctx context.Context, id string, processed, remaining int) error
	Fail(ctx context.Context, id string, errText string) error
}

// Classifier is the AI facade slice the processor needs: three independent
// calls combined per message.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (*classifier.ClassificationResult, error)
	Categorize(ctx context.Context, subject, body string) (*classifier.CategorizationResult, error)
	ExtractTime(ctx context.Context, subject, body string) (*classifier.TimeResult, error)
}

// BatchResult summarizes one processing run.
type BatchResult struct {
	Total     int
	Processed int
	Remaining int
	TimedOut  bool
}

// QueueProcessor turns unprocessed captured messages into classified
// transaction records under a wall-clock budget. Messages are processed
// sequentially, each under an exclusive claim, so overlapping runs never
// produce duplicate transactions and one message's failure never aborts the
// batch.
type QueueProcessor struct {
	messages     MessageStore
	transactions TransactionCreator
	jobs         JobStore
	ai           Classifier

	budget       time.Duration
	budgetBuffer time.Duration
	claimTimeout time.Duration

	now func() time.Time
}

func NewQueueProcessor(
	messages MessageStore,
	transactions TransactionCreator,
	jobs JobStore,
	ai Classifier,
	budget, budgetBuffer, claimTimeout time.Duration,
) *QueueProcessor {
	return &QueueProcessor{
		messages:     messages,
		transactions: transactions,
		jobs:         jobs,
		ai:           ai,
		budget:       budget,
		budgetBuffer: budgetBuffer,
		claimTimeout: claimTimeout,
		now:          time.Now,
	}
}

// Run executes one processing run against an already-created pending job.
// Budget exhaustion is not a failure: the run completes with the remaining
// count reporting what the next run will pick up.
func (p *QueueProcessor) Run(ctx context.Context, jobID string, limit int) (*BatchResult, error) {
	start := p.now()
	deadline := start.Add(p.budget - p.budgetBuffer)

	batch, err := p.messages.GetUnprocessed(ctx, limit)
	if err != nil {
		// Run-level failure: surfaced verbatim so an operator can act. A
		// missing table, column or index needs schema work, not a retry, so
		// that class is labeled apart from transient failures.
		errText := err.Error()
		if database.IsQueryConfigError(err) {
			errText = "query configuration error: " + errText
		}
		_ = p.jobs.Fail(ctx, jobID, errText)
		return nil, fmt.Errorf("failed to query unprocessed messages: %w", err)
	}

	if err := p.jobs.MarkRunning(ctx, jobID, len(batch)); err != nil {
		// The job must not sit pending forever; without this it would gate
		// every future scheduled run via the active-job check.
		_ = p.jobs.Fail(ctx, jobID, "failed to start run: "+err.Error())
		return nil, err
	}

	log.Printf("Processing run %s: %d message(s), limit %d", jobID, len(batch), limit)

	processed := 0
	timedOut := false
	for _, msg := range batch {
		// Deadline check before claiming the next message, so we never hold
		// a claim we cannot finish inside the budget.
		if p.now().After(deadline) {
			log.Printf("Run %s stopped by time budget after %d message(s)", jobID, processed)
			timedOut = true
			break
		}

		claimed, err := p.messages.TryClaim(ctx, msg.ID, p.now(), p.claimTimeout)
		if err != nil {
			log.Printf("Failed to claim message %s: %v", msg.ID, err)
			continue
		}
		if !claimed {
			// Already processed, or another run owns a fresh claim.
			log.Printf("Skipping message %s: not claimable", msg.ID)
			continue
		}

		current := msg.ID
		_ = p.jobs.UpdateProgress(ctx, jobID, processed, &current)

		if err := p.processMessage(ctx, msg); err != nil {
			log.Printf("Failed to process message %s: %v", msg.ID, err)
			if relErr := p.messages.ReleaseClaim(ctx, msg.ID, err.Error()); relErr != nil {
				log.Printf("Warning: failed to release claim on %s: %v", msg.ID, relErr)
			}
			continue
		}

		processed++
		_ = p.jobs.UpdateProgress(ctx, jobID, processed, nil)
	}

	remaining, err := p.messages.CountUnprocessed(ctx)
	if err != nil {
		log.Printf("Warning: failed to count remaining messages: %v", err)
		remaining = len(batch) - processed
	}

	if err := p.jobs.Complete(ctx, jobID, processed, remaining); err != nil {
		return nil, err
	}

	result := &BatchResult{
		Total:     len(batch),
		Processed: processed,
		Remaining: remaining,
		TimedOut:  timedOut,
	}
	log.Printf("Run %s completed: processed=%d remaining=%d timed_out=%v",
		jobID, result.Processed, result.Remaining, result.TimedOut)
	return result, nil
}

// processMessage classifies one claimed message and writes its transaction.
// The three facade calls are independent and awaited together; the
// transaction write happens strictly before mark-processed so a processed
// message always has a transaction behind it.
func (p *QueueProcessor) processMessage(ctx context.Context, msg models.Message) error {
	var (
		cls *classifier.ClassificationResult
		cat *classifier.CategorizationResult
		tm  *classifier.TimeResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cls, err = p.ai.Classify(gctx, msg.Subject, msg.BodyText)
		return err
	})
	g.Go(func() error {
		var err error
		cat, err = p.ai.Categorize(gctx, msg.Subject, msg.BodyText)
		return err
	})
	g.Go(func() error {
		var err error
		tm, err = p.ai.ExtractTime(gctx, msg.Subject, msg.BodyText)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	tx := models.Transaction{
		ID:          uuid.New().String(),
		MessageID:   msg.ID,
		ShouldTrack: cls.ShouldTrack,
		Type:        cls.Type,
		Currency:    cls.Currency,
		Description: stringPtr(cls.Description),
		Date:        stringPtr(cls.Date),
		Method:      stringPtr(cls.Method),
		Category:    stringPtr(cat.Category),
		Subcategory: stringPtr(cat.Subcategory),
		Confidence:  cat.Confidence,
		OccurredAt:  tm.OccurredAt,
	}
	if cls.Amount != nil {
		tx.Amount = *cls.Amount
	}
	if tx.Currency == "" {
		tx.Currency = "COP"
	}

	if err := p.transactions.Create(ctx, tx); err != nil {
		return fmt.Errorf("failed to write transaction: %w", err)
	}

	if err := p.messages.MarkProcessed(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}

	log.Printf("Processed message %s: should_track=%v amount=%.2f %s",
		msg.ID, tx.ShouldTrack, tx.Amount, tx.Currency)
	return nil
}

// stringPtr returns nil for empty strings, a pointer otherwise.
func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
