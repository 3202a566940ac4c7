package outbox

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

func TestRepository_GetUnprocessed(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	rows := sqlmock.NewRows([]string{"id", "aggregate_id", "topic", "message_key", "payload", "headers", "retry_count"}).
		AddRow("ob-1", "pay-1", "billing.reconcile", "pay-1", []byte(`{}`), []byte(`{"trace_id":"t-1"}`), 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `billing_outbox` WHERE processed_at IS NULL ORDER BY retry_count ASC, created_at ASC LIMIT ?")).
		WithArgs(5).
		WillReturnRows(rows)

	records, err := repo.GetUnprocessed(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pay-1", records[0].AggregateID)
	assert.Equal(t, "t-1", records[0].Headers["trace_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkProcessed(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{"запись отмечена", 1, nil},
		{"запись не найдена", 0, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)

			mock.ExpectBegin()
			mock.ExpectExec("UPDATE `billing_outbox` SET `processed_at`=").
				WithArgs(sqlmock.AnyArg(), "ob-1").
				WillReturnResult(sqlmock.NewResult(0, tt.rows))
			mock.ExpectCommit()

			err := NewRepository(db).MarkProcessed(context.Background(), "ob-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_MarkFailed(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `billing_outbox` SET `last_error`=\\?,`retry_count`=retry_count \\+ 1").
		WithArgs("broker down", "ob-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewRepository(db).MarkFailed(context.Background(), "ob-1", errors.New("broker down"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteProcessedBefore(t *testing.T) {
	db, mock := setupMockDB(t)
	before := time.Now().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `billing_outbox` WHERE processed_at IS NOT NULL AND processed_at < \\?").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	deleted, err := NewRepository(db).DeleteProcessedBefore(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
