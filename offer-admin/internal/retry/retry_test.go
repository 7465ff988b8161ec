package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (s statusErr) Error() string   { return "remote status" }
func (s statusErr) StatusCode() int { return int(s) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func noSleep(context.Context, time.Duration) error { return nil }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"host not found", &net.DNSError{Err: "no such host", Name: "billing.invalid", IsNotFound: true}, true},
		{"timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"gateway timeout", statusErr(504), true},
		{"bad request", statusErr(400), false},
		{"conflict", statusErr(409), false},
		{"server error", statusErr(500), false},
		{"plain", errors.New("duplicate key value violates unique constraint"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	r := New(Policy{Attempts: 3}, nil).WithSleep(noSleep)
	calls := 0
	err := r.Do(context.Background(), "billing.create", func(context.Context) error {
		calls++
		if calls < 3 {
			return statusErr(504)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoFailsFastOnRejection(t *testing.T) {
	r := New(Policy{Attempts: 5}, nil).WithSleep(noSleep)
	calls := 0
	err := r.Do(context.Background(), "billing.create", func(context.Context) error {
		calls++
		return statusErr(422)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestDoExhaustion(t *testing.T) {
	var waits []time.Duration
	r := New(Policy{Attempts: 4, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 250 * time.Millisecond}, nil).
		WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		})
	err := r.Do(context.Background(), "ci.trigger", func(context.Context) error {
		return timeoutErr{}
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.True(t, exhausted.Transient())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}, waits)
}

func TestValueReturnsResult(t *testing.T) {
	r := New(DefaultPolicy(), nil).WithSleep(noSleep)
	calls := 0
	v, err := Value(context.Background(), r, "config.current", func(context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 0, &net.DNSError{IsNotFound: true}
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestSetFallsBackToDefault(t *testing.T) {
	s := Set{
		Default: Policy{Attempts: 2},
		Systems: map[string]Policy{"billing": {Attempts: 5}},
	}
	assert.Equal(t, 5, s.For("billing").Attempts)
	assert.Equal(t, 2, s.For("ci").Attempts)
}
