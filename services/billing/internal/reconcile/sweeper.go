package reconcile

import (
	"context"
	"time"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/repository"
	"example.com/membership-billing/services/billing/internal/service"
)

// SweeperConfig — настройки периодического обхода.
type SweeperConfig struct {
	// Interval — пауза между обходами.
	Interval time.Duration

	// StaleAfter — попытка без активации старше этого возраста
	// считается кандидатом на сверку.
	StaleAfter time.Duration

	// MaxAge — более старые попытки не опрашиваются.
	MaxAge time.Duration

	// BatchSize — попыток за один обход.
	BatchSize int
}

// DefaultSweeperConfig возвращает конфигурацию по умолчанию.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   time.Minute,
		StaleAfter: 10 * time.Minute,
		MaxAge:     24 * time.Hour,
		BatchSize:  50,
	}
}

// Sweeper находит попытки, по которым не пришло ни подтверждение, ни
// вебхук (или задача потерялась), и прогоняет для них сверку.
type Sweeper struct {
	attempts repository.AttemptRepository
	runner   Runner
	cfg      SweeperConfig
	now      func() time.Time

	// cursor — created_at последней обработанной попытки, чтобы обход
	// доходил до более новых записей при полном батче.
	cursor time.Time
}

// NewSweeper создаёт Sweeper.
func NewSweeper(attempts repository.AttemptRepository, runner Runner, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		attempts: attempts,
		runner:   runner,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run запускает обход. Блокирует выполнение до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Запуск обхода сверки")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка обхода сверки")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один обход и возвращает число обработанных попыток.
func (s *Sweeper) Sweep(ctx context.Context) int {
	log := logger.FromContext(ctx)

	now := s.now()
	notBefore := now.Add(-s.cfg.MaxAge)
	if s.cursor.After(notBefore) {
		notBefore = s.cursor
	}

	attempts, err := s.attempts.GetStale(ctx, now.Add(-s.cfg.StaleAfter), notBefore, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска попыток для сверки")
		return 0
	}

	if len(attempts) < s.cfg.BatchSize {
		s.cursor = time.Time{}
	} else {
		s.cursor = attempts[len(attempts)-1].CreatedAt
	}

	if len(attempts) == 0 {
		return 0
	}

	log.Info().Int("count", len(attempts)).Msg("Найдены неподтверждённые попытки оплаты")

	processed := 0
	for _, a := range attempts {
		select {
		case <-ctx.Done():
			return processed
		default:
		}

		err := s.runner.Run(ctx, domain.ReconcileJob{PaymentID: a.ID, Source: domain.JobSourceSweep})
		processed++
		if err != nil {
			// Повторяемая ошибка будет подобрана следующим обходом.
			log.Warn().
				Err(err).
				Str("payment_id", a.ID).
				Bool("retryable", service.IsRetryable(err)).
				Msg("Сверка попытки при обходе не удалась")
		}
	}

	return processed
}
