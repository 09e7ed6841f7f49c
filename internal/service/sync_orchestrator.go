package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alejo-valencia/onefinance/internal/gmail"
	"github.com/alejo-valencia/onefinance/internal/models"
)

// MailClient is the mail provider slice the orchestrator needs.
type MailClient interface {
	ListMessages(ctx context.Context, label string, after time.Time) ([]gmail.MessageRef, error)
	GetFullMessage(ctx context.Context, messageID string) (*gmail.EmailMessage, error)
}

// MessageCapture upserts captured messages and exposes the live backlog.
type MessageCapture interface {
	Upsert(ctx context.Context, msg models.Message) (bool, error)
	CountUnprocessed(ctx context.Context) (int, error)
}

// SyncStatusStore manages the singleton sync status record.
type SyncStatusStore interface {
	Get(ctx context.Context) (*models.SyncStatus, error)
	LastSuccessAt(ctx context.Context) (*time.Time, error)
	TryStart(ctx context.Context, lookbackHours int) error
	SetProcessing(ctx context.Context, fetched, newCount, existing, queued, remaining int) error
	CompleteIfProcessing(ctx context.Context, processed int) error
	SetFailed(ctx context.Context, errText string) error
}

// SyncOrchestrator computes an adaptive lookback window from the last
// successful sync, fetches messages in that window and enqueues them by
// upserting into the message store. The singleton status record is the
// single-flight guard and the pollable progress surface.
type SyncOrchestrator struct {
	mail           MailClient
	messages       MessageCapture
	status         SyncStatusStore
	label          string
	lookbackBuffer time.Duration

	now func() time.Time
}

func NewSyncOrchestrator(mail MailClient, messages MessageCapture, status SyncStatusStore, label string, lookbackBuffer time.Duration) *SyncOrchestrator {
	return &SyncOrchestrator{
		mail:           mail,
		messages:       messages,
		status:         status,
		label:          label,
		lookbackBuffer: lookbackBuffer,
		now:            time.Now,
	}
}

// LookbackHours computes the adaptive re-fetch window: hours since the last
// successful sync, or since the start of the current month when none exists,
// plus a fixed buffer tolerating clock drift and missed runs.
func (o *SyncOrchestrator) LookbackHours(ctx context.Context) (int, error) {
	last, err := o.status.LastSuccessAt(ctx)
	if err != nil {
		return 0, err
	}

	now := o.now()
	var since time.Time
	if last == nil {
		since = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	} else {
		since = *last
	}

	hours := int(now.Sub(since).Hours()) + int(o.lookbackBuffer.Hours())
	if hours < 1 {
		hours = 1
	}
	return hours, nil
}

// Start takes the single-flight slot and returns the computed lookback
// window. Returns repository.ErrSyncInProgress when a sync is already
// fetching or processing. The actual fetch runs separately (in the
// background from the HTTP trigger) via Fetch.
func (o *SyncOrchestrator) Start(ctx context.Context) (int, error) {
	hours, err := o.LookbackHours(ctx)
	if err != nil {
		return 0, err
	}
	if err := o.status.TryStart(ctx, hours); err != nil {
		return 0, err
	}
	log.Printf("Sync started with %dh lookback window", hours)
	return hours, nil
}

// Fetch lists and captures all messages inside the lookback window, counting
// new and already-known messages separately, then moves the run to
// processing. Upserting never resets a message's processed flag.
func (o *SyncOrchestrator) Fetch(ctx context.Context, lookbackHours int) error {
	after := o.now().Add(-time.Duration(lookbackHours) * time.Hour)

	refs, err := o.mail.ListMessages(ctx, o.label, after)
	if err != nil {
		errText := fmt.Sprintf("failed to list messages: %v", err)
		_ = o.status.SetFailed(ctx, errText)
		return fmt.Errorf("failed to list messages: %w", err)
	}

	newCount := 0
	existing := 0
	for _, ref := range refs {
		full, err := o.mail.GetFullMessage(ctx, ref.ID)
		if err != nil {
			log.Printf("Warning: failed to fetch message %s: %v", ref.ID, err)
			continue
		}

		body := full.BodyText
		if body == "" {
			body = full.BodyHTML
		}
		receivedAt := full.InternalDate
		if receivedAt.IsZero() {
			receivedAt = full.Date
		}

		created, err := o.messages.Upsert(ctx, models.Message{
			ID:           full.ID,
			Subject:      full.Subject,
			Sender:       full.From,
			ProviderDate: full.DateHeader,
			BodyText:     body,
			ReceivedAt:   receivedAt,
		})
		if err != nil {
			log.Printf("Warning: failed to upsert message %s: %v", full.ID, err)
			continue
		}
		if created {
			newCount++
		} else {
			existing++
		}
	}

	remaining, err := o.messages.CountUnprocessed(ctx)
	if err != nil {
		log.Printf("Warning: failed to count unprocessed messages: %v", err)
		remaining = newCount
	}

	if err := o.status.SetProcessing(ctx, len(refs), newCount, existing, newCount, remaining); err != nil {
		return err
	}

	log.Printf("Sync fetch done: fetched=%d new=%d existing=%d remaining=%d",
		len(refs), newCount, existing, remaining)
	return nil
}

// Status returns the pollable sync status, inferring completion once the
// live unprocessed count reaches zero while the run was processing.
func (o *SyncOrchestrator) Status(ctx context.Context) (*models.SyncStatus, error) {
	st, err := o.status.Get(ctx)
	if err != nil {
		return nil, err
	}
	if st.Status != models.SyncStatusProcessing {
		return st, nil
	}

	remaining, err := o.messages.CountUnprocessed(ctx)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		if err := o.status.CompleteIfProcessing(ctx, st.Queued); err != nil {
			return nil, err
		}
		return o.status.Get(ctx)
	}

	st.Remaining = remaining
	if processed := st.Queued - remaining; processed > 0 {
		st.Processed = processed
	}
	return st, nil
}
