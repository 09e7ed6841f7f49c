package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alejo-valencia/onefinance/internal/classifier"
	"github.com/alejo-valencia/onefinance/internal/models"
	"github.com/alejo-valencia/onefinance/internal/repository"
)

type mockMovementStore struct {
	backlog []models.Transaction
	listErr error

	markedIDs     []string
	markedMatched map[string]bool
	markCalled    bool
}

func (m *mockMovementStore) ListUncheckedTrackable(ctx context.Context) ([]models.Transaction, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.backlog, nil
}

func (m *mockMovementStore) MarkMovementChecked(ctx context.Context, ids []string, matched map[string]bool) error {
	m.markCalled = true
	m.markedIDs = ids
	m.markedMatched = matched
	return nil
}

type mockMessageReader struct {
	getByIDFunc func(ctx context.Context, id string) (*models.Message, error)
}

func (m *mockMessageReader) GetByID(ctx context.Context, id string) (*models.Message, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return &models.Message{ID: id, BodyText: "Transferencia por $50.000"}, nil
}

type mockTransferDetector struct {
	detectFunc func(ctx context.Context, candidates []classifier.TransferCandidate) (*classifier.TransferResult, error)

	received []classifier.TransferCandidate
}

func (m *mockTransferDetector) DetectTransfers(ctx context.Context, candidates []classifier.TransferCandidate) (*classifier.TransferResult, error) {
	m.received = candidates
	if m.detectFunc != nil {
		return m.detectFunc(ctx, candidates)
	}
	return &classifier.TransferResult{}, nil
}

func trackableTransaction(id, messageID, txType string, amount float64, occurredAt string) models.Transaction {
	return models.Transaction{
		ID:          id,
		MessageID:   messageID,
		ShouldTrack: true,
		Type:        txType,
		Amount:      amount,
		Currency:    "COP",
		OccurredAt:  occurredAt,
	}
}

func TestMovementDetector_Run_EmptyBacklog(t *testing.T) {
	store := &mockMovementStore{}
	ai := &mockTransferDetector{}
	detector := NewMovementDetector(store, &mockMessageReader{}, ai)

	result, err := detector.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Checked != 0 || result.Submitted != 0 || result.Matched != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if store.markCalled {
		t.Error("expected no mark call for an empty backlog")
	}
	if ai.received != nil {
		t.Error("expected no pairing call for an empty backlog")
	}
}

func TestMovementDetector_Run_PairsTransfer(t *testing.T) {
	store := &mockMovementStore{backlog: []models.Transaction{
		trackableTransaction("t-out", "m-out", "expense", 50000, "2026-03-01T10:00:00-05:00"),
		trackableTransaction("t-in", "m-in", "income", 50000, "2026-03-01T10:00:02-05:00"),
		trackableTransaction("t-other", "m-other", "expense", 12000, "2026-03-01T12:00:00-05:00"),
	}}
	ai := &mockTransferDetector{
		detectFunc: func(ctx context.Context, candidates []classifier.TransferCandidate) (*classifier.TransferResult, error) {
			return &classifier.TransferResult{
				MatchedIDs: []string{"t-out", "t-in"},
				Pairs: []classifier.TransferPair{
					{OutgoingID: "t-out", IncomingID: "t-in", Reason: "same amount seconds apart"},
				},
			}, nil
		},
	}
	detector := NewMovementDetector(store, &mockMessageReader{}, ai)

	result, err := detector.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Checked != 3 || result.Submitted != 3 || result.Matched != 2 {
		t.Errorf("expected checked=3 submitted=3 matched=2, got %+v", result)
	}
	if len(store.markedIDs) != 3 {
		t.Fatalf("expected all 3 transactions marked checked, got %d", len(store.markedIDs))
	}
	if !store.markedMatched["t-out"] || !store.markedMatched["t-in"] {
		t.Error("expected both sides of the pair to be flagged as internal movement")
	}
	if store.markedMatched["t-other"] {
		t.Error("expected the unrelated transaction not to be flagged")
	}

	// Candidates carry the raw notification body and direction as evidence.
	if len(ai.received) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(ai.received))
	}
	if ai.received[0].Direction != "outgoing" || ai.received[1].Direction != "incoming" {
		t.Errorf("unexpected candidate directions: %s, %s", ai.received[0].Direction, ai.received[1].Direction)
	}
	if ai.received[0].Body == "" {
		t.Error("expected candidate body to be populated from the source message")
	}
}

func TestMovementDetector_Run_MissingSourceMessageStillChecked(t *testing.T) {
	store := &mockMovementStore{backlog: []models.Transaction{
		trackableTransaction("t1", "m1", "expense", 50000, "2026-03-01T10:00:00-05:00"),
		trackableTransaction("t2", "m-gone", "income", 50000, "2026-03-01T10:00:02-05:00"),
	}}
	reader := &mockMessageReader{
		getByIDFunc: func(ctx context.Context, id string) (*models.Message, error) {
			if id == "m-gone" {
				return nil, repository.ErrMessageNotFound
			}
			return &models.Message{ID: id, BodyText: "Transferencia por $50.000"}, nil
		},
	}
	ai := &mockTransferDetector{}
	detector := NewMovementDetector(store, reader, ai)

	result, err := detector.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Checked != 2 || result.Submitted != 1 {
		t.Errorf("expected checked=2 submitted=1, got %+v", result)
	}
	if len(ai.received) != 1 || ai.received[0].ID != "t1" {
		t.Errorf("expected only t1 to be submitted for pairing, got %+v", ai.received)
	}
	// The orphaned transaction must still leave the backlog.
	if len(store.markedIDs) != 2 {
		t.Errorf("expected both transactions marked checked, got %v", store.markedIDs)
	}
}

func TestMovementDetector_Run_TransientReadErrorDefersTransaction(t *testing.T) {
	store := &mockMovementStore{backlog: []models.Transaction{
		trackableTransaction("t1", "m1", "expense", 50000, "2026-03-01T10:00:00-05:00"),
		trackableTransaction("t2", "m2", "income", 50000, "2026-03-01T10:00:02-05:00"),
	}}
	reader := &mockMessageReader{
		getByIDFunc: func(ctx context.Context, id string) (*models.Message, error) {
			if id == "m1" {
				return nil, errors.New("connection reset by peer")
			}
			return &models.Message{ID: id, BodyText: "Transferencia por $50.000"}, nil
		},
	}
	ai := &mockTransferDetector{}
	detector := NewMovementDetector(store, reader, ai)

	result, err := detector.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// t1 stays unchecked so the next pass can still pair it.
	if result.Checked != 1 || result.Submitted != 1 {
		t.Errorf("expected checked=1 submitted=1, got %+v", result)
	}
	for _, id := range store.markedIDs {
		if id == "t1" {
			t.Error("expected t1 not to be marked checked after a transient read error")
		}
	}
}

func TestMovementDetector_Run_AllReadsFailingMarksNothing(t *testing.T) {
	store := &mockMovementStore{backlog: []models.Transaction{
		trackableTransaction("t1", "m1", "expense", 50000, "2026-03-01T10:00:00-05:00"),
	}}
	reader := &mockMessageReader{
		getByIDFunc: func(ctx context.Context, id string) (*models.Message, error) {
			return nil, errors.New("connection reset by peer")
		},
	}
	detector := NewMovementDetector(store, reader, &mockTransferDetector{})

	result, err := detector.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Checked != 0 {
		t.Errorf("expected checked=0, got %d", result.Checked)
	}
	if store.markCalled {
		t.Error("expected no mark call when every source read failed")
	}
}

func TestMovementDetector_Run_DetectorFailureLeavesBacklog(t *testing.T) {
	store := &mockMovementStore{backlog: []models.Transaction{
		trackableTransaction("t1", "m1", "expense", 50000, "2026-03-01T10:00:00-05:00"),
	}}
	ai := &mockTransferDetector{
		detectFunc: func(ctx context.Context, candidates []classifier.TransferCandidate) (*classifier.TransferResult, error) {
			return nil, errors.New("provider unavailable")
		},
	}
	detector := NewMovementDetector(store, &mockMessageReader{}, ai)

	_, err := detector.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when pairing fails, got nil")
	}
	if store.markCalled {
		t.Error("expected nothing marked checked on pairing failure")
	}
}
