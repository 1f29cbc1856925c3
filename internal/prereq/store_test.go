package prereq

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializationErr() error {
	return fmt.Errorf("failed to commit transaction: %w",
		&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
}

func TestWithSerializableRetry(t *testing.T) {
	t.Run("replays serialization aborts until success", func(t *testing.T) {
		calls := 0
		err := withSerializableRetry(func() error {
			calls++
			if calls < 3 {
				return serializationErr()
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("surfaces the abort once attempts are exhausted", func(t *testing.T) {
		calls := 0
		err := withSerializableRetry(func() error {
			calls++
			return serializationErr()
		})
		require.Error(t, err)
		assert.Equal(t, serializableAttempts, calls)

		var pgErr *pgconn.PgError
		require.ErrorAs(t, err, &pgErr)
		assert.Equal(t, "40001", pgErr.Code)
	})

	t.Run("does not replay other errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("syntax error")
		err := withSerializableRetry(func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("does not replay domain errors", func(t *testing.T) {
		calls := 0
		err := withSerializableRetry(func() error {
			calls++
			return ErrCycle
		})
		assert.ErrorIs(t, err, ErrCycle)
		assert.Equal(t, 1, calls)
	})
}

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization abort", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "wrapped abort", err: serializationErr(), want: true},
		{name: "other pg error", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSerializationFailure(tt.err))
		})
	}
}
