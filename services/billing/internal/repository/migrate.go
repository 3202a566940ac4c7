package repository

import (
	"fmt"

	"gorm.io/gorm"

	"example.com/membership-billing/pkg/outbox"
)

// AutoMigrate создаёт таблицы биллинга и добавляет колонки членства в users.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&AttemptModel{},
		&UserMembershipModel{},
		&WebhookEventModel{},
		&outbox.Model{},
	); err != nil {
		return fmt.Errorf("миграция схемы биллинга: %w", err)
	}
	return nil
}
