package domain

// Источники задачи сверки.
const (
	JobSourceWebhook = "webhook"
	JobSourceSweep   = "sweep"
)

// AggregatePaymentAttempt — тип агрегата в outbox.
const AggregatePaymentAttempt = "payment_attempt"

// EventReconcileRequested — тип события outbox для задачи сверки.
const EventReconcileRequested = "reconcile.requested"

// ReconcileJob — задача сверки одной попытки оплаты.
type ReconcileJob struct {
	PaymentID string `json:"paymentId"`
	Source    string `json:"source"`
}

// WebhookEvent — принятая доставка вебхука.
type WebhookEvent struct {
	WebhookID string
	PaymentID string
	Status    string
	Payload   []byte
}
