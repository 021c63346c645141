package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

var errPermanent = errors.New("permanent")

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func transient() error {
	return domain.NewTransientError(domain.TransientServiceUnavailable, errors.New("unavailable"))
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		return "", transient()
	})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestDoPropagatesNonTransientImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(5), func() (string, error) {
		calls++
		return "", errPermanent
	})

	require.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestDoSucceedsMidway(t *testing.T) {
	calls := 0
	id, err := Do(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", transient()
		}
		return "msg-42", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "msg-42", id)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := Do(ctx, Config{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute},
			func() (string, error) {
				calls++
				return "", transient()
			})
		assert.ErrorIs(t, err, context.Canceled)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry did not abort backoff on cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestDelaySchedule(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, cfg.Delay(1))
	assert.Equal(t, 2*time.Second, cfg.Delay(2))
	assert.Equal(t, 4*time.Second, cfg.Delay(3))
	assert.Equal(t, 8*time.Second, cfg.Delay(4))
	assert.Equal(t, 10*time.Second, cfg.Delay(5), "capped at max delay")
	assert.Equal(t, 10*time.Second, cfg.Delay(6))
}
