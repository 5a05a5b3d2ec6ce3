package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(&Config{
		Name:             "quotes",
		MaxFailures:      3,
		Timeout:          timeout,
		HalfOpenMaxCalls: 1,
	})
}

func failing() error    { return errors.New("provider down") }
func succeeding() error { return nil }

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("opens after consecutive failures", func(t *testing.T) {
		cb := testBreaker(time.Hour)

		for i := 0; i < 3; i++ {
			require.Error(t, cb.Execute(ctx, failing))
		}
		assert.Equal(t, StateOpen, cb.State())

		err := cb.Execute(ctx, succeeding)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := testBreaker(time.Hour)

		cb.Execute(ctx, failing)
		cb.Execute(ctx, failing)
		cb.Execute(ctx, succeeding)
		cb.Execute(ctx, failing)
		cb.Execute(ctx, failing)

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("recovers through half-open after cooldown", func(t *testing.T) {
		cb := testBreaker(10 * time.Millisecond)

		for i := 0; i < 3; i++ {
			cb.Execute(ctx, failing)
		}
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(20 * time.Millisecond)

		require.NoError(t, cb.Execute(ctx, succeeding))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("reopens on failed probe", func(t *testing.T) {
		cb := testBreaker(10 * time.Millisecond)

		for i := 0; i < 3; i++ {
			cb.Execute(ctx, failing)
		}

		time.Sleep(20 * time.Millisecond)

		cb.Execute(ctx, failing)
		assert.Equal(t, StateOpen, cb.State())
	})
}
