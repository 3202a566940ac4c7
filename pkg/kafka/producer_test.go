package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func headerMap(m kafka.Message) map[string]string {
	out := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(Config{})
	assert.Error(t, err)
}

func TestProducer_SendMessage_AddsContextHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	ctx := ContextWithCorrelationID(ContextWithTraceID(context.Background(), "t-1"), "c-1")
	require.NoError(t, p.Send(ctx, TopicBillingReconcile, []byte("pay-1"), []byte(`{}`)))

	require.Len(t, w.written, 1)
	h := headerMap(w.written[0])
	assert.Equal(t, "t-1", h[HeaderTraceID])
	assert.Equal(t, "c-1", h[HeaderCorrelationID])
	assert.NotEmpty(t, h[HeaderTimestamp])
	assert.Equal(t, TopicBillingReconcile, w.written[0].Topic)
}

func TestProducer_SendMessage_KeepsExplicitHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	ctx := ContextWithTraceID(context.Background(), "from-ctx")
	msg := &Message{Topic: TopicBillingReconcile, Headers: map[string]string{HeaderTraceID: "explicit"}}
	require.NoError(t, p.SendMessage(ctx, msg))

	assert.Equal(t, "explicit", headerMap(w.written[0])[HeaderTraceID])
}

func TestProducer_SendToDLQ(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	original := &Message{
		Topic:   TopicBillingReconcile,
		Key:     []byte("pay-1"),
		Value:   []byte(`{"paymentId":"pay-1"}`),
		Headers: map[string]string{HeaderCorrelationID: "pay-1"},
	}
	require.NoError(t, p.SendToDLQ(context.Background(), original, errors.New("сумма не совпала")))

	got := w.written[0]
	assert.Equal(t, TopicDLQ, got.Topic)
	assert.Equal(t, original.Value, got.Value)

	h := headerMap(got)
	assert.Equal(t, "сумма не совпала", h[HeaderDLQError])
	assert.Equal(t, TopicBillingReconcile, h[HeaderDLQOriginalTopic])
	assert.Equal(t, "pay-1", h[HeaderCorrelationID])
}

func TestProducer_SendMessage_WriteError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}}

	err := p.Send(context.Background(), TopicBillingReconcile, nil, nil)
	assert.Error(t, err)
}

func TestBillingTopics(t *testing.T) {
	topics := BillingTopics(3, 1)
	require.Len(t, topics, 2)
	assert.Equal(t, TopicBillingReconcile, topics[0].Topic)
	assert.Equal(t, 3, topics[0].NumPartitions)
	assert.Equal(t, TopicDLQ, topics[1].Topic)
	assert.Equal(t, 1, topics[1].NumPartitions)
}
