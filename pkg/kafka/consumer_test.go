package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeReader отдаёт сообщения из очереди, а когда она пуста, отменяет
// контекст, завершая цикл Consume.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error             { return nil }
func (r *fakeReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{Lag: 7} }

type fakeDLQ struct {
	mu   sync.Mutex
	keys []string
	errs []error
}

func (d *fakeDLQ) SendToDLQ(_ context.Context, msg *Message, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, string(msg.Key))
	d.errs = append(d.errs, err)
	return nil
}

func newTestConsumer(msgs ...kafka.Message) (*Consumer, *fakeReader, *fakeDLQ, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{queue: msgs, cancel: cancel}
	dlq := &fakeDLQ{}
	c := &Consumer{reader: reader, topic: TopicBillingReconcile}
	c.SetDLQ(dlq)
	return c, reader, dlq, ctx
}

// =============================================================================
// Consume
// =============================================================================

func TestConsume_CommitsAndRoutesFailuresToDLQ(t *testing.T) {
	c, reader, dlq, ctx := newTestConsumer(
		kafka.Message{Key: []byte("ok"), Offset: 1},
		kafka.Message{Key: []byte("bad"), Offset: 2},
	)

	err := c.Consume(ctx, func(_ context.Context, msg *Message) error {
		if string(msg.Key) == "bad" {
			return errors.New("сломано")
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2}, reader.committed)
	assert.Equal(t, []string{"bad"}, dlq.keys)
	assert.Equal(t, int64(7), c.Lag())
}

func TestConsume_PropagatesHeadersToContext(t *testing.T) {
	c, _, _, ctx := newTestConsumer(kafka.Message{
		Key: []byte("k"),
		Headers: []kafka.Header{
			{Key: HeaderTraceID, Value: []byte("trace-42")},
			{Key: HeaderCorrelationID, Value: []byte("pay-42")},
		},
	})

	var gotTrace, gotCorr string
	_ = c.Consume(ctx, func(ctx context.Context, _ *Message) error {
		gotTrace = TraceIDFromContext(ctx)
		gotCorr = CorrelationIDFromContext(ctx)
		return nil
	})

	assert.Equal(t, "trace-42", gotTrace)
	assert.Equal(t, "pay-42", gotCorr)
}

// =============================================================================
// RetryPolicy
// =============================================================================

var errTemporary = errors.New("временная ошибка")
var errPermanent = errors.New("постоянная ошибка")

func TestRunWithPolicy(t *testing.T) {
	retryable := func(err error) bool { return errors.Is(err, errTemporary) }

	tests := []struct {
		name       string
		results    []error
		maxRetries int
		wantCalls  int
		wantSleeps int
		wantErr    error
	}{
		{"успех с первой попытки", []error{nil}, 3, 1, 0, nil},
		{"успех после повтора", []error{errTemporary, nil}, 3, 2, 1, nil},
		{"исчерпаны повторы", []error{errTemporary, errTemporary, errTemporary, errTemporary}, 3, 4, 3, ErrRetriesExhausted},
		{"неповторяемая ошибка", []error{errPermanent}, 3, 1, 0, errPermanent},
		{"без повторов", []error{errTemporary}, 0, 1, 0, ErrRetriesExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			handler := func(context.Context, *Message) error {
				err := tt.results[calls]
				calls++
				return err
			}

			var sleeps []time.Duration
			sleep := func(_ context.Context, d time.Duration) error {
				sleeps = append(sleeps, d)
				return nil
			}

			policy := RetryPolicy{MaxRetries: tt.maxRetries, Delay: time.Minute, Retryable: retryable}
			err := runWithPolicy(context.Background(), &Message{Key: []byte("k")}, handler, policy, sleep)

			assert.Equal(t, tt.wantCalls, calls)
			assert.Len(t, sleeps, tt.wantSleeps)
			for _, d := range sleeps {
				assert.Equal(t, time.Minute, d)
			}
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRunWithPolicy_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := runWithPolicy(ctx, &Message{}, func(context.Context, *Message) error {
		calls++
		return errTemporary
	}, RetryPolicy{MaxRetries: 3, Delay: time.Hour}, sleepCtx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestConsumeWithPolicy_DeadLettersAfterRetries(t *testing.T) {
	c, reader, dlq, ctx := newTestConsumer(kafka.Message{Key: []byte("pay-1"), Offset: 10})

	calls := 0
	err := c.ConsumeWithPolicy(ctx, func(context.Context, *Message) error {
		calls++
		return errTemporary
	}, RetryPolicy{MaxRetries: 2, Delay: 0})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
	require.Len(t, dlq.errs, 1)
	assert.ErrorIs(t, dlq.errs[0], ErrRetriesExhausted)
	assert.Equal(t, []int64{10}, reader.committed)
}
