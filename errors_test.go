package fetchgraph_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/fetchgraph"
)

func TestMappingError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := fetchgraph.NewMappingError("Order.items", "%d lhs columns but %d rhs columns", 2, 1)
		assert.Equal(t, "fetchgraph: mapping Order.items: 2 lhs columns but 1 rhs columns", err.Error())
		assert.Equal(t, "fetchgraph: mapping: oops", fetchgraph.NewMappingError("", "oops").Error())
	})

	t.Run("IsMappingError", func(t *testing.T) {
		err := fetchgraph.NewMappingError("", "cannot fetch multiple bags")
		assert.True(t, errors.Is(err, fetchgraph.ErrMapping))
		assert.True(t, fetchgraph.IsMappingError(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, fetchgraph.IsMappingError(fetchgraph.ErrMapping))
		assert.False(t, fetchgraph.IsMappingError(errors.New("other error")))
		assert.False(t, fetchgraph.IsMappingError(nil))
	})
}

func TestStaleStateError(t *testing.T) {
	err := fetchgraph.NewStaleStateError("Order", 7)
	assert.Contains(t, err.Error(), "Order#7")
	assert.True(t, errors.Is(err, fetchgraph.ErrStaleState))
	assert.True(t, fetchgraph.IsStaleState(fmt.Errorf("lock: %w", err)))
	assert.False(t, fetchgraph.IsStaleState(fetchgraph.NewWrongClassError("Order", 7, "x")))
}

func TestWrongClassError(t *testing.T) {
	err := fetchgraph.NewWrongClassError("Animal", 3, "discriminator: Z")
	assert.Equal(t, "fetchgraph: object with id 3 was not of the specified subclass Animal (discriminator: Z)", err.Error())
	assert.True(t, fetchgraph.IsWrongClass(err))
	assert.True(t, errors.Is(err, fetchgraph.ErrWrongClass))
	assert.False(t, fetchgraph.IsWrongClass(nil))
}

func TestNotFoundError(t *testing.T) {
	err := fetchgraph.NewNotFoundError("Customer", int64(9))
	assert.Equal(t, "fetchgraph: Customer not found (id=9)", err.Error())
	assert.True(t, fetchgraph.IsNotFound(fmt.Errorf("resolve: %w", err)))
	assert.True(t, fetchgraph.IsNotFound(fetchgraph.ErrNotFound))
}

func TestSQLError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fetchgraph.NewSQLError("could not execute query", "select 1", "08006", cause)
	assert.Equal(t, "fetchgraph: could not execute query [select 1] (sqlstate 08006): connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, fetchgraph.IsSQLError(fmt.Errorf("list: %w", err)))

	noState := fetchgraph.NewSQLError("could not load an entity", "select 2", "", cause)
	assert.Equal(t, "fetchgraph: could not load an entity [select 2]: connection reset", noState.Error())
}

func TestConfigError(t *testing.T) {
	cause := errors.New("must be positive")
	err := fetchgraph.NewConfigError("batch", cause)
	assert.Equal(t, "fetchgraph: config batch: must be positive", err.Error())
	assert.ErrorIs(t, err, cause)
}
