package domain

// Kind — исход подтверждения оплаты.
type Kind string

const (
	KindCompleted             Kind = "completed"
	KindAlreadyCompleted      Kind = "already_completed"
	KindVerificationFailed    Kind = "verification_failed"
	KindSettlementUnavailable Kind = "settlement_unavailable"
	KindMismatch              Kind = "mismatch"
	KindNotFound              Kind = "not_found"
	KindWrongOwner            Kind = "wrong_owner"
	KindWrongStatus           Kind = "wrong_status"
	KindNotPaid               Kind = "not_paid"
	KindGatewayNotFound       Kind = "gateway_not_found"
	KindInvalidRequest        Kind = "invalid_request"
	KindInternal              Kind = "internal"
)

// Retryable сообщает, имеет ли смысл повторить подтверждение позже.
func (k Kind) Retryable() bool {
	return k == KindSettlementUnavailable
}

// Success — оплата подтверждена (сейчас или раньше).
func (k Kind) Success() bool {
	return k == KindCompleted || k == KindAlreadyCompleted
}

// Outcome — результат политики подтверждения. Ошибки передаются
// значением, а не через панику или исключение.
type Outcome struct {
	Kind       Kind
	Attempt    *PaymentAttempt
	Settlement *SettlementRecord
	Err        error
}

// Fail создаёт неуспешный исход.
func Fail(kind Kind, attempt *PaymentAttempt, err error) Outcome {
	return Outcome{Kind: kind, Attempt: attempt, Err: err}
}
