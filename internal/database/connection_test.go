// internal/database/connection_test.go
package database

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestCreateIndexesExecutesEveryStatement(t *testing.T) {
	db, mock := newMockDB(t)

	for _, stmt := range IndexStatements {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, CreateIndexes(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIndexesToleratesPartialFailure(t *testing.T) {
	db, mock := newMockDB(t)

	for i, stmt := range IndexStatements {
		exp := mock.ExpectExec(regexp.QuoteMeta(stmt))
		if i == 0 {
			exp.WillReturnError(errors.New("relation does not exist"))
			continue
		}
		exp.WillReturnResult(sqlmock.NewResult(0, 0))
	}

	assert.NoError(t, CreateIndexes(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIndexesFailsWhenNothingApplies(t *testing.T) {
	db, mock := newMockDB(t)

	for _, stmt := range IndexStatements {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnError(errors.New("permission denied"))
	}

	assert.Error(t, CreateIndexes(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelsCoverMarketplaceTables(t *testing.T) {
	assert.Len(t, Models(), 14)
}
