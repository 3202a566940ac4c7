package domain

import "strings"

// Статусы платежа в шлюзе.
const (
	GatewayStatusPaid                 = "PAID"
	GatewayStatusVirtualAccountIssued = "VIRTUAL_ACCOUNT_ISSUED"
	GatewayStatusFailed               = "FAILED"
	GatewayStatusCancelled            = "CANCELLED"
	GatewayStatusRefunded             = "REFUNDED"
)

// SettlementRecord — нормализованные данные платежа из API шлюза.
type SettlementRecord struct {
	Status    string // в верхнем регистре
	Amount    int64
	Currency  string // в верхнем регистре
	GatewayID string
}

// IsPaid сообщает, достаточно ли статуса для активации членства.
func (r *SettlementRecord) IsPaid() bool {
	return IsPaidEquivalent(r.Status)
}

// IsPaidEquivalent: оплачено полностью или выпущен виртуальный счёт.
func IsPaidEquivalent(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case GatewayStatusPaid, GatewayStatusVirtualAccountIssued:
		return true
	}
	return false
}

// NegativeTarget возвращает статус попытки для отрицательного исхода
// из вебхука: FAILED даёт failed, CANCELLED и REFUNDED дают canceled.
func NegativeTarget(gatewayStatus string) (AttemptStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(gatewayStatus)) {
	case GatewayStatusFailed:
		return StatusFailed, true
	case GatewayStatusCancelled, GatewayStatusRefunded:
		return StatusCanceled, true
	}
	return "", false
}
