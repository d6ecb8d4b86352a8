// internal/store/gorm_test.go
package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestGormBalance(t *testing.T) {
	st, mock := newMockStore(t)
	account := models.UserAccount(uuid.New())

	mock.ExpectQuery(`SELECT \* FROM "ledger_accounts" WHERE account = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"account", "balance", "updated_at"}).AddRow(account, 42, 0))
	mock.ExpectQuery(`SELECT \* FROM "ledger_accounts" WHERE account = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"account", "balance", "updated_at"}))

	bal, err := st.Ledger().Balance(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal)

	bal, err = st.Ledger().Balance(context.Background(), "user:unknown")
	require.NoError(t, err)
	assert.Zero(t, bal)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormTransferValidatesBeforeTouchingTheDatabase(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	err := st.Ledger().Transfer(ctx, "a", "a", 5, models.LedgerEntryRefund, "")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	err = st.Ledger().Transfer(ctx, "a", "b", -5, models.LedgerEntryRefund, "")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.NoError(t, st.Ledger().Transfer(ctx, "a", "b", 0, models.LedgerEntryRefund, ""))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormAtomicRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := st.Atomic(context.Background(), func(ctx context.Context, tx Store) error {
		assert.Same(t, tx, From(ctx, st))
		// nested units reuse the open transaction
		return st.Atomic(ctx, func(ctx context.Context, inner Store) error {
			assert.Same(t, tx, inner)
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormGetMapsNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "streams"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.Streams().Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
