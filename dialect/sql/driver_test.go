package sql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fetchgraph/dialect"
)

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		want   string
	}{
		{"Postgres", "postgres", dialect.Postgres},
		{"MySQL", "mysql", dialect.MySQL},
		{"SQLite", "sqlite", dialect.SQLite},
		{"Suffixed", "postgres-otel", dialect.Postgres},
		{"Unknown", "oracle", "oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			drv := OpenDB(tt.driver, db)
			assert.Equal(t, tt.want, drv.Dialect())
			assert.Same(t, db, drv.DB())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("Args", func(t *testing.T) {
		mock.ExpectQuery(`select order0_\.id as id0_ from orders order0_ where order0_\.id=\$1`).
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"id0_"}).AddRow(7))
		rows := &Rows{}
		err := drv.Query(context.Background(), "select order0_.id as id0_ from orders order0_ where order0_.id=$1", []any{7}, rows)
		require.NoError(t, err)
		require.True(t, rows.Next())
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery("select").WillReturnError(errors.New("database error"))
		err := drv.Query(context.Background(), "select", []any{}, &Rows{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: query:")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("InvalidDestination", func(t *testing.T) {
		require.Error(t, drv.Query(context.Background(), "select", []any{}, nil))
		require.Error(t, drv.Query(context.Background(), "select", "args", &Rows{}))
	})
}

func TestDriverTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.MySQL, db)

	mock.ExpectBegin()
	mock.ExpectQuery("select order0_.id as id0_ from orders order0_ for update").
		WillReturnRows(sqlmock.NewRows([]string{"id0_"}).AddRow(7))
	mock.ExpectCommit()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	rows := &Rows{}
	require.NoError(t, tx.Query(context.Background(), "select order0_.id as id0_ from orders order0_ for update", []any{}, rows))
	require.NoError(t, rows.Close())
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin().WillReturnError(errors.New("no connection"))
	_, err = drv.Tx(context.Background())
	require.Error(t, err)
}

func TestWithStatementTimeout(t *testing.T) {
	t.Run("Postgres", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		db.SetMaxOpenConns(1)
		drv := OpenDB(dialect.Postgres, db)

		ctx, cancel := WithStatementTimeout(context.Background(), dialect.Postgres, 1500*time.Millisecond)
		defer cancel()
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		d, ok := StatementTimeout(ctx)
		require.True(t, ok)
		assert.Equal(t, 1500*time.Millisecond, d)

		mock.ExpectExec("set statement_timeout = 1500").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		mock.ExpectExec("reset statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		rows := &Rows{}
		require.NoError(t, drv.Query(ctx, "select 1", []any{}, rows))
		require.NoError(t, rows.Close(), "closing the rows resets the timeout and releases the connection")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("MySQL", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		drv := OpenDB(dialect.MySQL, db)

		ctx, cancel := WithStatementTimeout(context.Background(), dialect.MySQL, time.Second)
		defer cancel()
		mock.ExpectExec("set session max_execution_time = 1000").WillReturnError(errors.New("denied"))
		err = drv.Query(ctx, "select 1", []any{}, &Rows{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "statement timeout")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("SQLite", func(t *testing.T) {
		ctx, cancel := WithStatementTimeout(context.Background(), dialect.SQLite, time.Second)
		defer cancel()
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		_, ok = StatementTimeout(ctx)
		assert.False(t, ok, "sqlite only gets the context deadline")
	})
	t.Run("ServerOnly", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		drv := OpenDB(dialect.Postgres, db)

		ctx := WithServerTimeout(context.Background(), dialect.Postgres, 20*time.Millisecond)
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		mock.ExpectExec("set statement_timeout = 20").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1).AddRow(2))
		mock.ExpectExec("reset statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		rows := &Rows{}
		require.NoError(t, drv.Query(ctx, "select 1", []any{}, rows))
		require.True(t, rows.Next())
		time.Sleep(40 * time.Millisecond)
		require.True(t, rows.Next(), "reading the rows outlives the server side timeout")
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())

		sctx := context.Background()
		assert.Equal(t, sctx, WithServerTimeout(sctx, dialect.SQLite, time.Second))
	})
}

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db),
		WithSlowThreshold(-1),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectQuery("select 2").WillReturnError(errors.New("boom"))
	mock.ExpectBegin()
	mock.ExpectQuery("select 3").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectRollback()

	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "select 1", []any{}, rows))
	for rows.Next() {
	}
	require.NoError(t, rows.Close())
	require.Error(t, drv.Query(context.Background(), "select 2", []any{}, &Rows{}))

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	rows = &Rows{}
	require.NoError(t, tx.Query(context.Background(), "select 3", []any{}, rows))
	require.True(t, rows.Next())
	require.NoError(t, rows.Close())
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.QueryStats().Snapshot()
	assert.Equal(t, int64(3), s.Statements)
	assert.Equal(t, int64(3), s.Rows)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(3), s.Slow)
	assert.Equal(t, []string{"select 1", "select 2", "select 3"}, slow)
	assert.Contains(t, s.String(), "statements=3 rows=3")

	drv.QueryStats().Reset()
	assert.Zero(t, drv.QueryStats().Snapshot())
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := NewDebugDriver(OpenDB(dialect.SQLite, db), nil)
	mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectCommit()
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "select 1", []any{}, rows))
	require.NoError(t, rows.Close())
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, dialect.SQLite, drv.Dialect())
}
