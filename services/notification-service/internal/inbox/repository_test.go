package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewRepository(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("e1", "notify").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := repo.Record(ctx, "e1", "notify")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("e1", "notify").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	ok, err = repo.Record(ctx, "e1", "notify")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("e2", "notify").
		WillReturnError(errors.New("conn reset"))
	_, err = repo.Record(ctx, "e2", "notify")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
