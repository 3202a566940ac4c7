package outbox

import (
	"context"
	"time"

	"example.com/membership-billing/pkg/kafka"
	"example.com/membership-billing/pkg/logger"
)

// Publisher доставляет сообщение получателю. Реализуется kafka.Producer
// и локальной очередью сверки, когда Kafka не настроена.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig — настройки Worker.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries — после стольких неудачных отправок запись снимается
	// с очереди. Попытка оплаты при этом остаётся в БД и будет найдена
	// периодической сверкой.
	MaxRetries int
}

// DefaultWorkerConfig возвращает настройки по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxRetries:   5,
	}
}

const (
	cleanupInterval  = time.Hour
	cleanupRetention = 7 * 24 * time.Hour
)

// Worker публикует записи outbox. Доставка at-least-once: запись
// помечается отправленной только после успешного SendMessage.
type Worker struct {
	repo      Repository
	publisher Publisher
	cfg       WorkerConfig
}

// NewWorker создаёт Worker.
func NewWorker(repo Repository, publisher Publisher, cfg WorkerConfig) *Worker {
	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-cleanup.C:
			w.cleanupProcessed(ctx)
		}
	}
}

func (w *Worker) cleanupProcessed(ctx context.Context) {
	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().Add(-cleanupRetention))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		logger.Ctx(ctx).Info().Int64("deleted", deleted).Msg("Очищены отправленные записи outbox")
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", record.ID).
				Str("event_type", record.EventType).
				Str("payment_id", record.AggregateID).
				Int("retry_count", record.RetryCount).
				Msg("Превышен лимит попыток отправки, запись снята с очереди")

			if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка снятия записи outbox")
			}
			continue
		}

		if err := w.ProcessSingle(ctx, record); err != nil {
			log.Error().
				Err(err).
				Str("outbox_id", record.ID).
				Str("topic", record.Topic).
				Msg("Ошибка публикации записи outbox")
		}
	}
}

// ProcessSingle публикует одну запись и фиксирует результат в outbox.
func (w *Worker) ProcessSingle(ctx context.Context, record *Record) error {
	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.publisher.SendMessage(ctx, msg); err != nil {
		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			logger.Ctx(ctx).Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	return w.repo.MarkProcessed(ctx, record.ID)
}
