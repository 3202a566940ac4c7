package service

import (
	"context"
	"fmt"
	"time"

	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/repository"
)

// MembershipActivator выставляет членство по оплаченному тарифу.
// Повторный вызов с теми же аргументами даёт ту же строку.
type MembershipActivator struct {
	repo     repository.MembershipRepository
	validity time.Duration
}

// NewMembershipActivator создаёт активатор со сроком действия validity.
func NewMembershipActivator(repo repository.MembershipRepository, validity time.Duration) *MembershipActivator {
	return &MembershipActivator{repo: repo, validity: validity}
}

// Activate ставит type=plan, status=active, expires_at=now+validity.
func (a *MembershipActivator) Activate(ctx context.Context, userID string, plan domain.PlanID, now time.Time) error {
	expires := now.Add(a.validity)

	m := &domain.Membership{
		UserID:    userID,
		Type:      domain.MembershipTypeFor(plan),
		Status:    domain.MembershipActive,
		ExpiresAt: &expires,
	}
	if m.Type == domain.MembershipFree {
		return fmt.Errorf("%w: %s", domain.ErrUnknownPlan, plan)
	}

	if err := a.repo.Save(ctx, m); err != nil {
		return fmt.Errorf("активация членства: %w", err)
	}
	return nil
}
