package domain

import "time"

// MembershipType — уровень членства пользователя.
type MembershipType string

const (
	MembershipFree     MembershipType = "free"
	MembershipStandard MembershipType = "standard"
	MembershipPremium  MembershipType = "premium"
)

// MembershipStatus — состояние членства.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipPastDue  MembershipStatus = "past_due"
	MembershipCanceled MembershipStatus = "canceled"
	MembershipTrialing MembershipStatus = "trialing"
)

// Membership — поля членства пользователя.
type Membership struct {
	UserID    string
	Type      MembershipType
	Status    MembershipStatus
	ExpiresAt *time.Time
}

// MembershipTypeFor возвращает уровень членства, который даёт тариф.
func MembershipTypeFor(plan PlanID) MembershipType {
	switch plan {
	case PlanStandard:
		return MembershipStandard
	case PlanPremium:
		return MembershipPremium
	default:
		return MembershipFree
	}
}

// ActiveAt сообщает, действует ли платное членство в момент now.
func (m *Membership) ActiveAt(now time.Time) bool {
	return m.Type != MembershipFree &&
		m.Status == MembershipActive &&
		m.ExpiresAt != nil &&
		now.Before(*m.ExpiresAt)
}
