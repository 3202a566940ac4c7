package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/repository"
)

const (
	// idempotencyKeyPrefix — префикс ключей Idempotency-Key в Redis.
	idempotencyKeyPrefix = "billing:prepare:"

	// idempotencyTTL — время жизни ключа идемпотентности.
	idempotencyTTL = 10 * time.Minute

	// idempotencyPending — значение ключа, пока попытка создаётся.
	idempotencyPending = "pending"

	// PayMethodCard — способ оплаты на странице PortOne.
	PayMethodCard = "CARD"
)

// PreparedPayment — данные для клиентского SDK оплаты.
type PreparedPayment struct {
	PaymentID   string
	OrderName   string
	TotalAmount int64
	Currency    string
	PayMethod   string
}

// CheckoutService создаёт попытки оплаты и отдаёт каталог тарифов.
type CheckoutService struct {
	attempts repository.AttemptRepository
	catalog  *domain.Catalog
	redis    redis.UniversalClient
	enabled  bool
}

// NewCheckoutService создаёт сервис. redisClient может быть nil,
// тогда Idempotency-Key игнорируется.
func NewCheckoutService(attempts repository.AttemptRepository, catalog *domain.Catalog, redisClient redis.UniversalClient, enabled bool) *CheckoutService {
	return &CheckoutService{
		attempts: attempts,
		catalog:  catalog,
		redis:    redisClient,
		enabled:  enabled,
	}
}

// Plans возвращает тарифы в порядке каталога.
func (s *CheckoutService) Plans() []domain.Plan {
	return s.catalog.All()
}

// Prepare создаёт попытку оплаты в статусе pending. Повтор с тем же
// Idempotency-Key возвращает ранее созданную попытку.
func (s *CheckoutService) Prepare(ctx context.Context, userID, planRaw, idempotencyKey string) (*PreparedPayment, error) {
	log := logger.Ctx(ctx)

	if !s.enabled {
		return nil, domain.ErrGatewayDisabled
	}

	plan, err := s.catalog.Lookup(planRaw)
	if err != nil {
		return nil, err
	}

	key := s.idempotencyKey(userID, idempotencyKey)
	if key != "" {
		wasSet, err := s.redis.SetNX(ctx, key, idempotencyPending, idempotencyTTL).Result()
		if err != nil {
			// Redis недоступен: продолжаем без идемпотентности
			log.Warn().Err(err).Msg("Ошибка Redis при проверке Idempotency-Key")
			key = ""
		} else if !wasSet {
			if prepared := s.existing(ctx, key, userID, plan); prepared != nil {
				return prepared, nil
			}
		}
	}

	attempt := domain.NewPaymentAttempt(userID, plan)
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if key != "" {
			_ = s.redis.Del(ctx, key).Err()
		}
		return nil, fmt.Errorf("ошибка создания попытки оплаты: %w", err)
	}

	if key != "" {
		if err := s.redis.Set(ctx, key, attempt.ID, idempotencyTTL).Err(); err != nil {
			log.Warn().Err(err).Msg("Ошибка сохранения Idempotency-Key в Redis")
		}
	}

	log.Info().
		Str("payment_id", attempt.ID).
		Str("user_id", userID).
		Str("plan", string(plan.ID)).
		Int64("amount", plan.Amount).
		Msg("Попытка оплаты создана")

	return preparedFrom(plan, attempt.ID), nil
}

// existing возвращает попытку, сохранённую под ключом. nil означает,
// что создать попытку нужно заново.
func (s *CheckoutService) existing(ctx context.Context, key, userID string, plan domain.Plan) *PreparedPayment {
	log := logger.Ctx(ctx)

	paymentID, err := s.redis.Get(ctx, key).Result()
	if err != nil || paymentID == idempotencyPending {
		// Параллельный запрос ещё создаёт попытку или ключ истёк.
		return nil
	}

	attempt, err := s.attempts.GetByID(ctx, paymentID)
	if err != nil {
		if !errors.Is(err, domain.ErrAttemptNotFound) {
			log.Warn().Err(err).Str("payment_id", paymentID).Msg("Не удалось прочитать попытку по Idempotency-Key")
		}
		return nil
	}
	if !attempt.OwnedBy(userID) || attempt.Plan != plan.ID {
		return nil
	}

	log.Info().Str("payment_id", attempt.ID).Msg("Попытка оплаты уже создана (идемпотентность)")
	return preparedFrom(plan, attempt.ID)
}

func (s *CheckoutService) idempotencyKey(userID, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || s.redis == nil {
		return ""
	}
	return idempotencyKeyPrefix + userID + ":" + raw
}

func preparedFrom(plan domain.Plan, paymentID string) *PreparedPayment {
	return &PreparedPayment{
		PaymentID:   paymentID,
		OrderName:   plan.OrderName(),
		TotalAmount: plan.Amount,
		Currency:    plan.Currency,
		PayMethod:   PayMethodCard,
	}
}
