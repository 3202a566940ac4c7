// Package handler содержит HTTP обработчики публичного API биллинга.
package handler

import (
	"context"

	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/service"
)

// Checkout — каталог тарифов и создание попыток оплаты.
// Позволяет подменять *service.CheckoutService в тестах.
type Checkout interface {
	Plans() []domain.Plan
	Prepare(ctx context.Context, userID, plan, idempotencyKey string) (*service.PreparedPayment, error)
}

// Confirmer — синхронное подтверждение оплаты покупателем.
type Confirmer interface {
	Confirm(ctx context.Context, userID, paymentID string) domain.Outcome
}

// WebhookProcessor — обработка уведомлений шлюза.
type WebhookProcessor interface {
	Handle(ctx context.Context, req service.WebhookRequest) (service.WebhookResult, error)
}
