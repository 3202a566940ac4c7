// Package domain содержит бизнес-сущности сервиса биллинга.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus — статус попытки оплаты.
type AttemptStatus string

const (
	// StatusPending — попытка создана, оплата не подтверждена.
	StatusPending AttemptStatus = "pending"

	// StatusPaid — оплата подтверждена. Без activated_at это
	// предварительная отметка по вебхуку, ожидающая сверки.
	StatusPaid AttemptStatus = "paid"

	// StatusFailed — шлюз сообщил о неуспешной оплате.
	StatusFailed AttemptStatus = "failed"

	// StatusCanceled — оплата отменена или возвращена.
	StatusCanceled AttemptStatus = "canceled"
)

// IsTerminal возвращает true для paid, failed и canceled.
func (s AttemptStatus) IsTerminal() bool {
	return s != StatusPending
}

// Valid проверяет, что статус известен.
func (s AttemptStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// allowedTransitions: из pending можно уйти в любой терминальный статус,
// терминальные статусы не меняются.
var allowedTransitions = map[AttemptStatus][]AttemptStatus{
	StatusPending: {StatusPaid, StatusFailed, StatusCanceled},
}

// PaymentAttempt — одна попытка покупки членства. Никогда не удаляется.
type PaymentAttempt struct {
	ID               string
	UserID           string
	Plan             PlanID
	Amount           int64 // в минимальных единицах валюты (для KRW это воны)
	Currency         string
	Status           AttemptStatus
	GatewayPaymentID *string
	ActivatedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPaymentAttempt создаёт попытку в статусе pending. Сумма и валюта
// фиксируются по тарифу и дальше не меняются.
func NewPaymentAttempt(userID string, plan Plan) *PaymentAttempt {
	return &PaymentAttempt{
		ID:       uuid.NewString(),
		UserID:   userID,
		Plan:     plan.ID,
		Amount:   plan.Amount,
		Currency: plan.Currency,
		Status:   StatusPending,
	}
}

// CanTransitionTo проверяет переход по таблице состояний.
func (a *PaymentAttempt) CanTransitionTo(next AttemptStatus) bool {
	for _, s := range allowedTransitions[a.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// IsCompleted — оплата подтверждена и членство активировано.
func (a *PaymentAttempt) IsCompleted() bool {
	return a.Status == StatusPaid && a.ActivatedAt != nil
}

// IsProvisional — статус paid выставлен вебхуком, сверка ещё не прошла.
func (a *PaymentAttempt) IsProvisional() bool {
	return a.Status == StatusPaid && a.ActivatedAt == nil
}

// CanFinalize — попытку можно подтвердить и активировать членство.
func (a *PaymentAttempt) CanFinalize() bool {
	return a.Status == StatusPending || a.IsProvisional()
}

// OwnedBy проверяет владельца попытки.
func (a *PaymentAttempt) OwnedBy(userID string) bool {
	return userID != "" && a.UserID == userID
}

// Matches сверяет сумму и валюту с данными шлюза.
func (a *PaymentAttempt) Matches(rec *SettlementRecord) bool {
	return rec.Amount == a.Amount && strings.EqualFold(rec.Currency, a.Currency)
}
