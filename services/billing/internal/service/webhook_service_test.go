package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/webhook"
)

const webhookSecret = "whsec-test"

var webhookNow = time.Unix(1700000000, 0)

// signedRequest собирает вебхук с корректной подписью.
func signedRequest(id, body string) WebhookRequest {
	ts := strconv.FormatInt(webhookNow.Unix(), 10)
	return WebhookRequest{
		Body:        []byte(body),
		ContentType: "application/json",
		ID:          id,
		Timestamp:   ts,
		Signature:   "v1," + webhook.Sign([]byte(webhookSecret), id, ts, []byte(body)),
	}
}

func setupWebhook(attempts ...*domain.PaymentAttempt) (*WebhookService, *fakeAttemptRepo, *fakeEvents) {
	repo := newFakeAttemptRepo(attempts...)
	events := newFakeEvents()
	verifier := webhook.NewVerifier(webhookSecret, webhook.WithClock(func() time.Time { return webhookNow }))
	return NewWebhookService(verifier, repo, events), repo, events
}

func TestWebhookService_Rejections(t *testing.T) {
	body := `{"paymentId":"att-1","status":"PAID"}`

	tests := []struct {
		name    string
		mutate  func(r *WebhookRequest)
		wantErr error
	}{
		{"неверная подпись", func(r *WebhookRequest) { r.Signature = "v1,AAAA" }, webhook.ErrBadSignature},
		{"подменённое тело", func(r *WebhookRequest) { r.Body = []byte(`{"paymentId":"att-1","status":"PAID "}`) }, webhook.ErrBadSignature},
		{"не JSON content type", func(r *WebhookRequest) { r.ContentType = "text/plain" }, webhook.ErrContentType},
		{"нет webhook-id", func(r *WebhookRequest) { r.ID = "" }, webhook.ErrMissingHeaders},
		{"устаревший timestamp", func(r *WebhookRequest) {
			ts := strconv.FormatInt(webhookNow.Add(-400*time.Second).Unix(), 10)
			r.Timestamp = ts
			r.Signature = "v1," + webhook.Sign([]byte(webhookSecret), r.ID, ts, r.Body)
		}, webhook.ErrStaleTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, events := setupWebhook(pendingAttempt("att-1", "user-1"))

			req := signedRequest("wh-1", body)
			tt.mutate(&req)

			result, err := svc.Handle(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, WebhookRejected, result)
			assert.Equal(t, domain.StatusPending, repo.get("att-1").Status)
			assert.Empty(t, repo.enqueuedJobs())
			assert.Empty(t, events.seen)
		})
	}
}

func TestWebhookService_Handle(t *testing.T) {
	activated := time.Now()

	tests := []struct {
		name         string
		attempt      *domain.PaymentAttempt
		body         string
		wantResult   WebhookResult
		wantStatus   domain.AttemptStatus
		wantEnqueued bool
	}{
		{
			name:         "PAID: предварительная отметка и задача сверки",
			attempt:      pendingAttempt("att-1", "user-1"),
			body:         `{"paymentId":"att-1","status":"PAID"}`,
			wantResult:   WebhookProvisional,
			wantStatus:   domain.StatusPaid,
			wantEnqueued: true,
		},
		{
			name:         "виртуальный счёт в формате V2",
			attempt:      pendingAttempt("att-1", "user-1"),
			body:         `{"type":"Transaction.VirtualAccountIssued","data":{"paymentId":"att-1","status":"virtual_account_issued"}}`,
			wantResult:   WebhookProvisional,
			wantStatus:   domain.StatusPaid,
			wantEnqueued: true,
		},
		{
			name:       "merchant_uid как идентификатор",
			attempt:    pendingAttempt("att-1", "user-1"),
			body:       `{"merchant_uid":"att-1","status":"FAILED"}`,
			wantResult: WebhookClosed,
			wantStatus: domain.StatusFailed,
		},
		{
			name:       "CANCELLED",
			attempt:    pendingAttempt("att-1", "user-1"),
			body:       `{"merchantOrderRef":"att-1","status":"CANCELLED"}`,
			wantResult: WebhookClosed,
			wantStatus: domain.StatusCanceled,
		},
		{
			name:       "REFUNDED",
			attempt:    pendingAttempt("att-1", "user-1"),
			body:       `{"paymentId":"att-1","status":"REFUNDED"}`,
			wantResult: WebhookClosed,
			wantStatus: domain.StatusCanceled,
		},
		{
			name:       "неизвестный статус",
			attempt:    pendingAttempt("att-1", "user-1"),
			body:       `{"paymentId":"att-1","status":"READY"}`,
			wantResult: WebhookNoop,
			wantStatus: domain.StatusPending,
		},
		{
			name: "уже paid",
			attempt: func() *domain.PaymentAttempt {
				a := pendingAttempt("att-1", "user-1")
				a.Status = domain.StatusPaid
				a.ActivatedAt = &activated
				return a
			}(),
			body:       `{"paymentId":"att-1","status":"CANCELLED"}`,
			wantResult: WebhookNoop,
			wantStatus: domain.StatusPaid,
		},
		{
			name: "failed не меняется от PAID",
			attempt: func() *domain.PaymentAttempt {
				a := pendingAttempt("att-1", "user-1")
				a.Status = domain.StatusFailed
				return a
			}(),
			body:       `{"paymentId":"att-1","status":"PAID"}`,
			wantResult: WebhookNoop,
			wantStatus: domain.StatusFailed,
		},
		{
			name: "canceled не меняется от PAID",
			attempt: func() *domain.PaymentAttempt {
				a := pendingAttempt("att-1", "user-1")
				a.Status = domain.StatusCanceled
				return a
			}(),
			body:       `{"paymentId":"att-1","status":"PAID"}`,
			wantResult: WebhookNoop,
			wantStatus: domain.StatusCanceled,
		},
		{
			name:       "неизвестная попытка",
			attempt:    pendingAttempt("att-1", "user-1"),
			body:       `{"paymentId":"att-404","status":"PAID"}`,
			wantResult: WebhookUnknown,
			wantStatus: domain.StatusPending,
		},
		{
			name:       "тело не JSON",
			attempt:    pendingAttempt("att-1", "user-1"),
			body:       `paymentId=att-1`,
			wantResult: WebhookIgnored,
			wantStatus: domain.StatusPending,
		},
		{
			name:       "нет идентификатора",
			attempt:    pendingAttempt("att-1", "user-1"),
			body:       `{"status":"PAID"}`,
			wantResult: WebhookIgnored,
			wantStatus: domain.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := setupWebhook(tt.attempt)

			result, err := svc.Handle(context.Background(), signedRequest("wh-1", tt.body))
			require.NoError(t, err)

			assert.Equal(t, tt.wantResult, result)
			assert.Equal(t, tt.wantStatus, repo.get("att-1").Status)
			if tt.wantEnqueued {
				assert.Equal(t, []string{"att-1"}, repo.enqueuedJobs())
			} else {
				assert.Empty(t, repo.enqueuedJobs())
			}
		})
	}
}

func TestWebhookService_DuplicateDelivery(t *testing.T) {
	svc, repo, events := setupWebhook(pendingAttempt("att-1", "user-1"))
	req := signedRequest("wh-1", `{"paymentId":"att-1","status":"PAID"}`)

	first, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, WebhookProvisional, first)

	second, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, second)

	assert.Len(t, repo.enqueuedJobs(), 1)
	assert.Contains(t, events.processed, "wh-1")
	assert.NoError(t, events.processed["wh-1"])
}

func TestWebhookService_EventLogFailureIsNotFatal(t *testing.T) {
	svc, repo, events := setupWebhook(pendingAttempt("att-1", "user-1"))
	events.recordErr = errors.New("table locked")

	result, err := svc.Handle(context.Background(), signedRequest("wh-1", `{"paymentId":"att-1","status":"PAID"}`))
	require.NoError(t, err)
	assert.Equal(t, WebhookProvisional, result)
	assert.Equal(t, domain.StatusPaid, repo.get("att-1").Status)
}

func TestWebhookService_StoreErrorStillAcknowledged(t *testing.T) {
	svc, repo, events := setupWebhook(pendingAttempt("att-1", "user-1"))
	repo.getErr = errors.New("connection reset")

	result, err := svc.Handle(context.Background(), signedRequest("wh-1", `{"paymentId":"att-1","status":"PAID"}`))
	require.NoError(t, err)
	assert.Equal(t, WebhookFailed, result)
	assert.Error(t, events.processed["wh-1"])
}
