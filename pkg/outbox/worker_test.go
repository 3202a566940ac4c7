package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/membership-billing/pkg/kafka"
)

// =============================================================================
// Моки
// =============================================================================

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, r *Record) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Record, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *mockRepository) MarkProcessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) MarkFailed(ctx context.Context, id string, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *mockRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) SendMessage(ctx context.Context, msg *kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func reconcileRecord(id, paymentID string) *Record {
	return &Record{
		ID:            id,
		AggregateType: "payment_attempt",
		AggregateID:   paymentID,
		EventType:     "reconcile.requested",
		Topic:         kafka.TopicBillingReconcile,
		MessageKey:    paymentID,
		Payload:       []byte(`{"paymentId":"` + paymentID + `","source":"webhook"}`),
	}
}

// =============================================================================
// ProcessSingle
// =============================================================================

func TestWorker_ProcessSingle_Success(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	pub := new(mockPublisher)
	w := NewWorker(repo, pub, DefaultWorkerConfig())

	record := reconcileRecord("ob-1", "pay-1")
	record.Headers = map[string]string{kafka.HeaderCorrelationID: "wh-1"}

	pub.On("SendMessage", ctx, mock.MatchedBy(func(msg *kafka.Message) bool {
		return msg.Topic == kafka.TopicBillingReconcile &&
			string(msg.Key) == "pay-1" &&
			msg.Headers[kafka.HeaderCorrelationID] == "wh-1"
	})).Return(nil)
	repo.On("MarkProcessed", ctx, "ob-1").Return(nil)

	require.NoError(t, w.ProcessSingle(ctx, record))

	pub.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestWorker_ProcessSingle_SendError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	pub := new(mockPublisher)
	w := NewWorker(repo, pub, DefaultWorkerConfig())

	sendErr := errors.New("kafka unavailable")
	pub.On("SendMessage", ctx, mock.Anything).Return(sendErr)
	repo.On("MarkFailed", ctx, "ob-1", sendErr).Return(nil)

	err := w.ProcessSingle(ctx, reconcileRecord("ob-1", "pay-1"))

	assert.ErrorIs(t, err, sendErr)
	repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

// =============================================================================
// processBatch
// =============================================================================

func TestWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	cfg := WorkerConfig{PollInterval: 10 * time.Millisecond, BatchSize: 10, MaxRetries: 3}

	tests := []struct {
		name      string
		records   []*Record
		setup     func(repo *mockRepository, pub *mockPublisher)
		wantSends int
	}{
		{
			name:      "пустой outbox",
			records:   []*Record{},
			setup:     func(*mockRepository, *mockPublisher) {},
			wantSends: 0,
		},
		{
			name:    "две записи",
			records: []*Record{reconcileRecord("ob-1", "pay-1"), reconcileRecord("ob-2", "pay-2")},
			setup: func(repo *mockRepository, pub *mockPublisher) {
				pub.On("SendMessage", ctx, mock.Anything).Return(nil)
				repo.On("MarkProcessed", ctx, "ob-1").Return(nil)
				repo.On("MarkProcessed", ctx, "ob-2").Return(nil)
			},
			wantSends: 2,
		},
		{
			name: "превышен лимит попыток",
			records: func() []*Record {
				r := reconcileRecord("ob-dead", "pay-3")
				r.RetryCount = 3
				return []*Record{r}
			}(),
			setup: func(repo *mockRepository, _ *mockPublisher) {
				repo.On("MarkProcessed", ctx, "ob-dead").Return(nil)
			},
			wantSends: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepository)
			pub := new(mockPublisher)
			repo.On("GetUnprocessed", ctx, cfg.BatchSize).Return(tt.records, nil)
			tt.setup(repo, pub)

			NewWorker(repo, pub, cfg).processBatch(ctx)

			repo.AssertExpectations(t)
			pub.AssertNumberOfCalls(t, "SendMessage", tt.wantSends)
		})
	}
}

func TestWorker_ProcessBatch_ReadError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	pub := new(mockPublisher)

	repo.On("GetUnprocessed", ctx, 100).Return(nil, errors.New("db down"))

	NewWorker(repo, pub, DefaultWorkerConfig()).processBatch(ctx)

	pub.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestWorker_Run_ContextCancel(t *testing.T) {
	repo := new(mockRepository)
	pub := new(mockPublisher)
	cfg := WorkerConfig{PollInterval: 20 * time.Millisecond, BatchSize: 10, MaxRetries: 5}

	repo.On("GetUnprocessed", mock.Anything, cfg.BatchSize).Return([]*Record{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(repo, pub, cfg).Run(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker не остановился после отмены context")
	}
}

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("payment_attempt", "pay-1", "reconcile.requested", kafka.TopicBillingReconcile,
		map[string]string{"paymentId": "pay-1"}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "pay-1", rec.MessageKey)
	assert.JSONEq(t, `{"paymentId":"pay-1"}`, string(rec.Payload))

	_, err = NewRecord("a", "b", "c", "d", make(chan int), nil)
	assert.Error(t, err)
}
