package service

import (
	"context"
	"sync"
	"time"

	"example.com/membership-billing/services/billing/internal/domain"
)

// =============================================================================
// In-memory репозиторий попыток с семантикой условных UPDATE
// =============================================================================

// fakeAttemptRepo эмулирует CAS-обновления payment_attempts.
// Потокобезопасен для тестов гонок.
type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]*domain.PaymentAttempt
	enqueued []string // задачи сверки, записанные в outbox

	createErr error
	getErr    error
}

func newFakeAttemptRepo(attempts ...*domain.PaymentAttempt) *fakeAttemptRepo {
	r := &fakeAttemptRepo{attempts: make(map[string]*domain.PaymentAttempt)}
	for _, a := range attempts {
		cp := *a
		r.attempts[a.ID] = &cp
	}
	return r
}

func (r *fakeAttemptRepo) Create(_ context.Context, a *domain.PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	r.attempts[a.ID] = &cp
	return nil
}

func (r *fakeAttemptRepo) GetByID(_ context.Context, id string) (*domain.PaymentAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return nil, r.getErr
	}
	a, ok := r.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAttemptRepo) MarkProvisionallyPaid(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok || a.Status != domain.StatusPending {
		return false, nil
	}
	a.Status = domain.StatusPaid
	r.enqueued = append(r.enqueued, id)
	return true, nil
}

func (r *fakeAttemptRepo) MarkClosed(_ context.Context, id string, to domain.AttemptStatus, from ...domain.AttemptStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok || a.ActivatedAt != nil {
		return false, nil
	}
	if len(from) == 0 {
		from = []domain.AttemptStatus{domain.StatusPending}
	}
	for _, s := range from {
		if a.Status == s {
			a.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAttemptRepo) Finalize(ctx context.Context, id, gatewayID string, at time.Time, activate func(context.Context) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok || a.ActivatedAt != nil || (a.Status != domain.StatusPending && a.Status != domain.StatusPaid) {
		return false, nil
	}

	// Блокировка держится на время activate, как строка в транзакции.
	if err := activate(ctx); err != nil {
		return false, err
	}

	a.Status = domain.StatusPaid
	a.ActivatedAt = &at
	if gatewayID != "" {
		gid := gatewayID
		a.GatewayPaymentID = &gid
	}
	return true, nil
}

func (r *fakeAttemptRepo) GetStale(_ context.Context, _, _ time.Time, limit int) ([]*domain.PaymentAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.PaymentAttempt
	for _, a := range r.attempts {
		if a.CanFinalize() && len(out) < limit {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAttemptRepo) get(id string) domain.PaymentAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.attempts[id]
}

func (r *fakeAttemptRepo) enqueuedJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.enqueued...)
}

// =============================================================================
// Шлюз, активатор, журнал вебхуков
// =============================================================================

type fakeSettlement struct {
	mu    sync.Mutex
	rec   *domain.SettlementRecord
	err   error
	calls int
}

func (s *fakeSettlement) Query(_ context.Context, _ string) (*domain.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.rec
	return &cp, nil
}

func (s *fakeSettlement) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type activation struct {
	UserID string
	Plan   domain.PlanID
	At     time.Time
}

type fakeActivator struct {
	mu    sync.Mutex
	calls []activation
	err   error
}

func (a *fakeActivator) Activate(_ context.Context, userID string, plan domain.PlanID, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return a.err
	}
	a.calls = append(a.calls, activation{UserID: userID, Plan: plan, At: now})
	return nil
}

func (a *fakeActivator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeMembershipRepo struct {
	mu    sync.Mutex
	saved map[string]domain.Membership
}

func newFakeMembershipRepo() *fakeMembershipRepo {
	return &fakeMembershipRepo{saved: make(map[string]domain.Membership)}
}

func (r *fakeMembershipRepo) Save(_ context.Context, m *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[m.UserID] = *m
	return nil
}

func (r *fakeMembershipRepo) Get(_ context.Context, userID string) (*domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.saved[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &m, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	seen      map[string]bool
	processed map[string]error
	recordErr error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{seen: make(map[string]bool), processed: make(map[string]error)}
}

func (e *fakeEvents) Record(_ context.Context, ev *domain.WebhookEvent) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recordErr != nil {
		return false, e.recordErr
	}
	if e.seen[ev.WebhookID] {
		return false, nil
	}
	e.seen[ev.WebhookID] = true
	return true, nil
}

func (e *fakeEvents) MarkProcessed(_ context.Context, id string, procErr error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed[id] = procErr
	return nil
}

// =============================================================================
// Фикстуры
// =============================================================================

func pendingAttempt(id, userID string) *domain.PaymentAttempt {
	return &domain.PaymentAttempt{
		ID:       id,
		UserID:   userID,
		Plan:     domain.PlanStandard,
		Amount:   9900,
		Currency: "KRW",
		Status:   domain.StatusPending,
	}
}

func paidRecord() *domain.SettlementRecord {
	return &domain.SettlementRecord{Status: "PAID", Amount: 9900, Currency: "KRW", GatewayID: "pg-1"}
}
