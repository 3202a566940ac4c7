package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/membership-billing/services/billing/internal/domain"
)

// MembershipRepository изменяет поля членства в таблице users.
// Саму таблицу ведёт сервис пользователей.
type MembershipRepository interface {
	// Save записывает тип, статус и срок членства. Вызывается внутри
	// транзакции Finalize.
	Save(ctx context.Context, m *domain.Membership) error

	// Get возвращает текущее членство пользователя.
	Get(ctx context.Context, userID string) (*domain.Membership, error)
}

// UserMembershipModel — колонки членства таблицы users.
type UserMembershipModel struct {
	ID                  string     `gorm:"column:id;type:varchar(36);primaryKey"`
	MembershipType      string     `gorm:"column:membership_type;type:varchar(20);not null;default:free"`
	MembershipStatus    string     `gorm:"column:membership_status;type:varchar(20);not null;default:active"`
	MembershipExpiresAt *time.Time `gorm:"column:membership_expires_at"`
}

// TableName возвращает имя таблицы в БД.
func (UserMembershipModel) TableName() string {
	return "users"
}

func (m *UserMembershipModel) toDomain() *domain.Membership {
	return &domain.Membership{
		UserID:    m.ID,
		Type:      domain.MembershipType(m.MembershipType),
		Status:    domain.MembershipStatus(m.MembershipStatus),
		ExpiresAt: m.MembershipExpiresAt,
	}
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository создаёт репозиторий членства.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

// Save обновляет членство пользователя.
func (r *membershipRepository) Save(ctx context.Context, m *domain.Membership) error {
	db := conn(ctx, r.db)

	res := db.Model(&UserMembershipModel{}).
		Where("id = ?", m.UserID).
		Updates(map[string]any{
			"membership_type":       string(m.Type),
			"membership_status":     string(m.Status),
			"membership_expires_at": m.ExpiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL не считает строку затронутой, если значения не изменились.
	var count int64
	if err := db.Model(&UserMembershipModel{}).Where("id = ?", m.UserID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Get возвращает членство пользователя.
func (r *membershipRepository) Get(ctx context.Context, userID string) (*domain.Membership, error) {
	var model UserMembershipModel

	if err := conn(ctx, r.db).Where("id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}
