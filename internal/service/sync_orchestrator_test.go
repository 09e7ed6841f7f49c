package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejo-valencia/onefinance/internal/gmail"
	"github.com/alejo-valencia/onefinance/internal/models"
	"github.com/alejo-valencia/onefinance/internal/repository"
)

type mockMailClient struct {
	listFunc func(ctx context.Context, label string, after time.Time) ([]gmail.MessageRef, error)
	getFunc  func(ctx context.Context, messageID string) (*gmail.EmailMessage, error)

	listedAfter time.Time
}

func (m *mockMailClient) ListMessages(ctx context.Context, label string, after time.Time) ([]gmail.MessageRef, error) {
	m.listedAfter = after
	if m.listFunc != nil {
		return m.listFunc(ctx, label, after)
	}
	return nil, nil
}

func (m *mockMailClient) GetFullMessage(ctx context.Context, messageID string) (*gmail.EmailMessage, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, messageID)
	}
	return &gmail.EmailMessage{
		ID:           messageID,
		Subject:      "Alertas y Notificaciones",
		From:         "alertas@bancolombia.com.co",
		BodyText:     "Compra por $50.000 en EXITO",
		InternalDate: time.Now(),
	}, nil
}

type mockMessageCapture struct {
	upsertFunc func(ctx context.Context, msg models.Message) (bool, error)

	unprocessed int
	upserted    []models.Message
}

func (m *mockMessageCapture) Upsert(ctx context.Context, msg models.Message) (bool, error) {
	m.upserted = append(m.upserted, msg)
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, msg)
	}
	return true, nil
}

func (m *mockMessageCapture) CountUnprocessed(ctx context.Context) (int, error) {
	return m.unprocessed, nil
}

type mockSyncStatusStore struct {
	status        *models.SyncStatus
	lastSuccessAt *time.Time
	tryStartErr   error

	startedHours  int
	processing    []int
	completed     bool
	completedWith int
	failedText    string
}

func (m *mockSyncStatusStore) Get(ctx context.Context) (*models.SyncStatus, error) {
	if m.status == nil {
		return &models.SyncStatus{ID: models.SyncStatusID, Status: models.SyncStatusIdle}, nil
	}
	st := *m.status
	return &st, nil
}

func (m *mockSyncStatusStore) LastSuccessAt(ctx context.Context) (*time.Time, error) {
	return m.lastSuccessAt, nil
}

func (m *mockSyncStatusStore) TryStart(ctx context.Context, lookbackHours int) error {
	if m.tryStartErr != nil {
		return m.tryStartErr
	}
	m.startedHours = lookbackHours
	return nil
}

func (m *mockSyncStatusStore) SetProcessing(ctx context.Context, fetched, newCount, existing, queued, remaining int) error {
	m.processing = []int{fetched, newCount, existing, queued, remaining}
	return nil
}

func (m *mockSyncStatusStore) CompleteIfProcessing(ctx context.Context, processed int) error {
	m.completed = true
	m.completedWith = processed
	if m.status != nil {
		m.status.Status = models.SyncStatusCompleted
		m.status.Processed = processed
		m.status.Remaining = 0
	}
	return nil
}

func (m *mockSyncStatusStore) SetFailed(ctx context.Context, errText string) error {
	m.failedText = errText
	return nil
}

func newTestOrchestrator(mail *mockMailClient, messages *mockMessageCapture, status *mockSyncStatusStore) *SyncOrchestrator {
	return NewSyncOrchestrator(mail, messages, status, "bank-notifications", 6*time.Hour)
}

func TestSyncOrchestrator_LookbackHours_NoPreviousSync(t *testing.T) {
	status := &mockSyncStatusStore{}
	o := newTestOrchestrator(&mockMailClient{}, &mockMessageCapture{}, status)
	// Fixed on the 10th so the window reaches back to the 1st.
	o.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	}

	hours, err := o.LookbackHours(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 9 days 12 hours since the start of the month, plus the 6h buffer.
	expected := 9*24 + 12 + 6
	if hours != expected {
		t.Errorf("expected %d hours, got %d", expected, hours)
	}
}

func TestSyncOrchestrator_LookbackHours_SinceLastSuccess(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-10 * time.Hour)
	status := &mockSyncStatusStore{lastSuccessAt: &last}
	o := newTestOrchestrator(&mockMailClient{}, &mockMessageCapture{}, status)
	o.now = func() time.Time { return now }

	hours, err := o.LookbackHours(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hours != 16 {
		t.Errorf("expected 16 hours (10 elapsed + 6 buffer), got %d", hours)
	}
}

func TestSyncOrchestrator_LookbackHours_MinimumOneHour(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)
	status := &mockSyncStatusStore{lastSuccessAt: &last}
	o := NewSyncOrchestrator(&mockMailClient{}, &mockMessageCapture{}, status, "bank-notifications", 0)
	o.now = func() time.Time { return now }

	hours, err := o.LookbackHours(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hours != 1 {
		t.Errorf("expected minimum of 1 hour, got %d", hours)
	}
}

func TestSyncOrchestrator_Start_ConflictWhenActive(t *testing.T) {
	status := &mockSyncStatusStore{tryStartErr: repository.ErrSyncInProgress}
	o := newTestOrchestrator(&mockMailClient{}, &mockMessageCapture{}, status)

	_, err := o.Start(context.Background())
	if !errors.Is(err, repository.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestSyncOrchestrator_Fetch_CountsNewAndExisting(t *testing.T) {
	mail := &mockMailClient{
		listFunc: func(ctx context.Context, label string, after time.Time) ([]gmail.MessageRef, error) {
			return []gmail.MessageRef{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}}, nil
		},
	}
	messages := &mockMessageCapture{
		unprocessed: 2,
		upsertFunc: func(ctx context.Context, msg models.Message) (bool, error) {
			// m3 was captured by an earlier sync.
			return msg.ID != "m3", nil
		},
	}
	status := &mockSyncStatusStore{}
	o := newTestOrchestrator(mail, messages, status)

	if err := o.Fetch(context.Background(), 16); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(messages.upserted) != 3 {
		t.Fatalf("expected 3 upserts, got %d", len(messages.upserted))
	}
	expected := []int{3, 2, 1, 2, 2} // fetched, new, existing, queued, remaining
	if len(status.processing) != 5 {
		t.Fatalf("expected SetProcessing to be called, got %v", status.processing)
	}
	for i, want := range expected {
		if status.processing[i] != want {
			t.Errorf("SetProcessing arg %d: expected %d, got %d", i, want, status.processing[i])
		}
	}
}

func TestSyncOrchestrator_Fetch_ListFailureMarksFailed(t *testing.T) {
	mail := &mockMailClient{
		listFunc: func(ctx context.Context, label string, after time.Time) ([]gmail.MessageRef, error) {
			return nil, errors.New("rate limited")
		},
	}
	status := &mockSyncStatusStore{}
	o := newTestOrchestrator(mail, &mockMessageCapture{}, status)

	err := o.Fetch(context.Background(), 16)
	if err == nil {
		t.Fatal("expected error when listing fails, got nil")
	}
	if status.failedText == "" {
		t.Error("expected the run to be marked failed")
	}
}

func TestSyncOrchestrator_Fetch_WindowFromLookback(t *testing.T) {
	mail := &mockMailClient{}
	o := newTestOrchestrator(mail, &mockMessageCapture{}, &mockSyncStatusStore{})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }

	if err := o.Fetch(context.Background(), 16); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expected := now.Add(-16 * time.Hour)
	if !mail.listedAfter.Equal(expected) {
		t.Errorf("expected list window after %v, got %v", expected, mail.listedAfter)
	}
}

func TestSyncOrchestrator_Status_InfersCompletionOnDrain(t *testing.T) {
	status := &mockSyncStatusStore{
		status: &models.SyncStatus{
			ID:     models.SyncStatusID,
			Status: models.SyncStatusProcessing,
			Queued: 5,
		},
	}
	messages := &mockMessageCapture{unprocessed: 0}
	o := newTestOrchestrator(&mockMailClient{}, messages, status)

	st, err := o.Status(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !status.completed {
		t.Fatal("expected drain to complete the run")
	}
	if status.completedWith != 5 {
		t.Errorf("expected processed=5 on completion, got %d", status.completedWith)
	}
	if st.Status != models.SyncStatusCompleted {
		t.Errorf("expected completed status, got %s", st.Status)
	}
}

func TestSyncOrchestrator_Status_PatchesLiveCounters(t *testing.T) {
	status := &mockSyncStatusStore{
		status: &models.SyncStatus{
			ID:        models.SyncStatusID,
			Status:    models.SyncStatusProcessing,
			Queued:    5,
			Remaining: 5,
		},
	}
	messages := &mockMessageCapture{unprocessed: 2}
	o := newTestOrchestrator(&mockMailClient{}, messages, status)

	st, err := o.Status(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if st.Status != models.SyncStatusProcessing {
		t.Errorf("expected processing status, got %s", st.Status)
	}
	if st.Remaining != 2 || st.Processed != 3 {
		t.Errorf("expected remaining=2 processed=3, got remaining=%d processed=%d", st.Remaining, st.Processed)
	}
	if status.completed {
		t.Error("expected no completion while messages remain")
	}
}
