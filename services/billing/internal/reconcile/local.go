package reconcile

import (
	"context"
	"errors"
	"time"

	"example.com/membership-billing/pkg/kafka"
	"example.com/membership-billing/pkg/logger"
)

// ErrQueueFull — локальная очередь заполнена, запись outbox останется
// неотправленной и будет повторена.
var ErrQueueFull = errors.New("локальная очередь сверки заполнена")

// LocalDispatcher заменяет Kafka, когда брокеры не настроены: outbox
// worker публикует в буферизованный канал, Run выполняет задачи с той же
// политикой повторов. Очередь не переживает рестарт, недоставленные
// попытки подбирает обход Sweeper.
type LocalDispatcher struct {
	queue   chan *kafka.Message
	handler kafka.MessageHandler
	policy  kafka.RetryPolicy
}

// NewLocalDispatcher создаёт очередь ёмкостью size.
func NewLocalDispatcher(size int, handler kafka.MessageHandler, policy kafka.RetryPolicy) *LocalDispatcher {
	if size <= 0 {
		size = 1
	}
	return &LocalDispatcher{
		queue:   make(chan *kafka.Message, size),
		handler: handler,
		policy:  policy,
	}
}

// SendMessage ставит сообщение в очередь без блокировки.
func (d *LocalDispatcher) SendMessage(ctx context.Context, msg *kafka.Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}
	if _, ok := msg.Headers[kafka.HeaderTraceID]; !ok {
		if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
			msg.Headers[kafka.HeaderTraceID] = traceID
		}
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	select {
	case d.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Len возвращает число задач в очереди.
func (d *LocalDispatcher) Len() int {
	return len(d.queue)
}

// Run обрабатывает очередь до отмены ctx.
func (d *LocalDispatcher) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().Int("capacity", cap(d.queue)).Msg("Запуск локальной очереди сверки")

	for {
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(d.queue)).Msg("Остановка локальной очереди сверки")
			return
		case msg := <-d.queue:
			d.dispatch(ctx, msg)
		}
	}
}

func (d *LocalDispatcher) dispatch(ctx context.Context, msg *kafka.Message) {
	msgCtx := ctx
	if traceID := msg.Headers[kafka.HeaderTraceID]; traceID != "" {
		msgCtx = kafka.ContextWithTraceID(msgCtx, traceID)
	}
	if correlationID := msg.Headers[kafka.HeaderCorrelationID]; correlationID != "" {
		msgCtx = kafka.ContextWithCorrelationID(msgCtx, correlationID)
	}

	if err := kafka.RunWithPolicy(msgCtx, msg, d.handler, d.policy); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Ctx(msgCtx).Error().
			Err(err).
			Str("key", string(msg.Key)).
			Msg("Задача сверки отброшена после всех попыток")
	}
}
