package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema_ExecutesDDLAgainstTheConnection(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := &DB{DB: sqlDB}

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))

	err = EnsureSchema(context.Background(), db)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_WrapsExecError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := &DB{DB: sqlDB}

	mock.ExpectExec(".*").WillReturnError(assert.AnError)

	err = EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure schema")
}
