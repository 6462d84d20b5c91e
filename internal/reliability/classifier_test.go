package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRetryableHTTPStatus(tc.code), "code %d", tc.code)
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	assert.Equal(t, base, ExponentialBackoff(0, base, capDur))
	assert.Equal(t, 400*time.Millisecond, ExponentialBackoff(2, base, capDur))
	assert.Equal(t, capDur, ExponentialBackoff(10, base, capDur))
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	calls := 0
	err := RetryPolicy{Attempts: 5, Base: time.Millisecond, Cap: time.Millisecond}.Do(context.Background(), func(int) (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("busy")
		}
		return false, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	busy := errors.New("busy")
	calls := 0
	err := RetryPolicy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond}.Do(context.Background(), func(int) (bool, error) {
		calls++
		return true, busy
	})
	assert.ErrorIs(t, err, busy)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryPolicy{Attempts: 3, Base: time.Hour, Cap: time.Hour}.Do(ctx, func(int) (bool, error) {
		return true, errors.New("busy")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
