// Package retry wraps remote and database calls with bounded retries that
// only fire for transient transport failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Policy is the retry budget for one remote system.
type Policy struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

const (
	defaultAttempts       = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
)

func DefaultPolicy() Policy {
	return Policy{Attempts: defaultAttempts, InitialBackoff: defaultInitialBackoff, MaxBackoff: defaultMaxBackoff}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// StatusCoder is implemented by errors that carry an HTTP status returned by
// a remote collaborator.
type StatusCoder interface {
	StatusCode() int
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error   { return e.Err }
func (e *ExhaustedError) Transient() bool { return true }

// Retrier executes calls under a policy.
type Retrier struct {
	policy Policy
	logger *log.Logger
	sleep  func(context.Context, time.Duration) error
}

func New(policy Policy, logger *log.Logger) *Retrier {
	return &Retrier{policy: policy.normalized(), logger: logger, sleep: sleepCtx}
}

// WithSleep replaces the backoff sleeper; tests use it to avoid waiting.
func (r *Retrier) WithSleep(sleep func(context.Context, time.Duration) error) *Retrier {
	cp := *r
	cp.sleep = sleep
	return &cp
}

func (r *Retrier) Policy() Policy { return r.policy }

// Do runs fn until it succeeds, fails permanently, or the attempt budget is
// spent. Only errors accepted by IsTransient are retried.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := r.policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt == r.policy.Attempts {
			break
		}
		if r.logger != nil {
			r.logger.Printf("[retry] transient failure op=%s attempt=%d backoff=%s err=%v", op, attempt, backoff, err)
		}
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}
	return &ExhaustedError{Op: op, Attempts: r.policy.Attempts, Err: lastErr}
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient reports whether err is a transport failure worth retrying:
// host not found, a timeout, or a 504 from the remote side. Remote
// rejections and constraint violations are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() == http.StatusGatewayTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound || dnsErr.IsTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
