package repository

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// withTx кладёт открытую транзакцию в контекст, чтобы репозитории,
// вызванные внутри Finalize, писали в неё же.
func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// conn возвращает транзакцию из контекста или обычное соединение.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}
