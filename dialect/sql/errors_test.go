package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fetchgraph"
)

func TestTranslate(t *testing.T) {
	require.NoError(t, Translate(nil, "ctx", "select 1"))

	cause := &pq.Error{Code: "55P03", Message: "could not obtain lock on row"}
	err := Translate(fmt.Errorf("dialect/sql: query: %w", cause), "could not execute query", "select 1")
	var serr *fetchgraph.SQLError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "55P03", serr.SQLState)
	assert.Equal(t, "select 1", serr.SQL)
	assert.Equal(t, "could not execute query", serr.Context)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsLockError(err))

	assert.Same(t, err, Translate(err, "other", "select 2"), "already translated errors pass through")
}

func TestSQLState(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"postgres", &pq.Error{Code: "23505"}, "23505"},
		{"mysql", &mysql.MySQLError{Number: 1062, SQLState: [5]byte{'2', '3', '0', '0', '0'}}, "23000"},
		{"mysql without state", &mysql.MySQLError{Number: 1205}, "HY000"},
		{"unknown", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SQLState(tt.err))
		})
	}
}

func TestConstraintErrors(t *testing.T) {
	assert.True(t, IsUniqueConstraintError(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueConstraintError(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsUniqueConstraintError(errors.New("UNIQUE constraint failed: users.email")))
	assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1452}))
	assert.True(t, IsForeignKeyConstraintError(&pq.Error{Code: "23503"}))
	assert.True(t, IsCheckConstraintError(&pq.Error{Code: "23514"}))
	assert.True(t, IsConstraintError(fmt.Errorf("wrap: %w", &pq.Error{Code: "23503"})))
	assert.False(t, IsConstraintError(errors.New("timeout")))
	assert.False(t, IsConstraintError(nil))
}

func TestIsLockError(t *testing.T) {
	assert.True(t, IsLockError(&mysql.MySQLError{Number: 3572}))
	assert.True(t, IsLockError(&pq.Error{Code: "40P01"}))
	assert.True(t, IsLockError(errors.New("database is locked")))
	assert.False(t, IsLockError(&pq.Error{Code: "23505"}))
	assert.False(t, IsLockError(nil))
	assert.Equal(t, "1205", errorCode(&mysql.MySQLError{Number: 1205}))
}

func TestSQLiteState(t *testing.T) {
	assert.Equal(t, "23505", sqliteState(2067))
	assert.Equal(t, "23503", sqliteState(787))
	assert.Equal(t, "23000", sqliteState(19))
	assert.Equal(t, "55P03", sqliteState(5))
	assert.Equal(t, "HY000", sqliteState(1))
}
