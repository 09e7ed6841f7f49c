package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/alejo-valencia/onefinance/internal/classifier"
	"github.com/alejo-valencia/onefinance/internal/models"
	"github.com/alejo-valencia/onefinance/internal/repository"
)

// TransactionMovementStore is the slice of the transaction repository the
// detector needs.
type TransactionMovementStore interface {
	ListUncheckedTrackable(ctx context.Context) ([]models.Transaction, error)
	MarkMovementChecked(ctx context.Context, ids []string, matched map[string]bool) error
}

// MessageReader resolves source messages for pairing evidence.
type MessageReader interface {
	GetByID(ctx context.Context, id string) (*models.Message, error)
}

// TransferDetector is the pairing slice of the AI facade.
type TransferDetector interface {
	DetectTransfers(ctx context.Context, candidates []classifier.TransferCandidate) (*classifier.TransferResult, error)
}

// MovementResult summarizes one detection pass.
type MovementResult struct {
	Checked   int
	Submitted int
	Matched   int
}

// MovementDetector reconciles pairs of transactions that are really one
// transfer between the user's own accounts. It runs after a batch: every
// unchecked trackable transaction is submitted (with its raw notification
// body as evidence) in a single pairing call, then the whole input set is
// marked checked so the backlog never regrows for already-submitted rows.
type MovementDetector struct {
	transactions TransactionMovementStore
	messages     MessageReader
	ai           TransferDetector
}

func NewMovementDetector(transactions TransactionMovementStore, messages MessageReader, ai TransferDetector) *MovementDetector {
	return &MovementDetector{
		transactions: transactions,
		messages:     messages,
		ai:           ai,
	}
}

// Run executes one detection pass.
func (d *MovementDetector) Run(ctx context.Context) (*MovementResult, error) {
	backlog, err := d.transactions.ListUncheckedTrackable(ctx)
	if err != nil {
		return nil, err
	}
	if len(backlog) == 0 {
		return &MovementResult{}, nil
	}

	log.Printf("Internal-movement pass: %d unchecked transaction(s)", len(backlog))

	allIDs := make([]string, 0, len(backlog))
	candidates := make([]classifier.TransferCandidate, 0, len(backlog))
	for _, tx := range backlog {
		msg, err := d.messages.GetByID(ctx, tx.MessageID)
		if errors.Is(err, repository.ErrMessageNotFound) {
			// A transaction whose source message is gone cannot be paired,
			// but it must still be marked checked below or it would block
			// future passes forever.
			log.Printf("Skipping transaction %s from pairing: source message %s deleted",
				tx.ID, tx.MessageID)
			allIDs = append(allIDs, tx.ID)
			continue
		}
		if err != nil {
			// A transient read failure must not consume the transaction's
			// one pairing submission; leave it unchecked for the next pass.
			log.Printf("Deferring transaction %s: failed to read source message %s: %v",
				tx.ID, tx.MessageID, err)
			continue
		}

		allIDs = append(allIDs, tx.ID)
		candidates = append(candidates, classifier.TransferCandidate{
			ID:         tx.ID,
			Amount:     tx.Amount,
			Direction:  tx.Direction(),
			OccurredAt: tx.OccurredAt,
			Body:       msg.BodyText,
		})
	}

	matched := make(map[string]bool)
	if len(candidates) > 0 {
		result, err := d.ai.DetectTransfers(ctx, candidates)
		if err != nil {
			// Nothing is marked checked on facade failure, so the whole set
			// is retried on the next pass.
			return nil, fmt.Errorf("transfer detection failed: %w", err)
		}
		for _, id := range result.MatchedIDs {
			matched[id] = true
		}
		for _, pair := range result.Pairs {
			log.Printf("Internal movement: %s -> %s (%s)", pair.OutgoingID, pair.IncomingID, pair.Reason)
		}
	}

	if len(allIDs) > 0 {
		if err := d.transactions.MarkMovementChecked(ctx, allIDs, matched); err != nil {
			return nil, err
		}
	}

	result := &MovementResult{
		Checked:   len(allIDs),
		Submitted: len(candidates),
		Matched:   len(matched),
	}
	log.Printf("Internal-movement pass done: checked=%d submitted=%d matched=%d",
		result.Checked, result.Submitted, result.Matched)
	return result, nil
}
