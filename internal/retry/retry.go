// Package retry implements the exponential-backoff-with-full-jitter policy
// shared by the Fetcher, Embedder, and LLM call sites.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted wraps the last error once all attempts are spent.
type ErrExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrExhausted) Unwrap() error { return e.Last }

// Policy configures the retry loop. Zero values fall back to defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ExpBase     float64
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.ExpBase == 0 {
		p.ExpBase = 2
	}
	return p
}

// Retriable reports whether err represents a transport/timeout failure or an
// HTTP status that should be retried (5xx or 429).
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"timeout", "connection reset", "connection refused", "eof", "too many requests", "429"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return serverErrorStatus.MatchString(msg)
}

// serverErrorStatus matches a 5xx status code appearing in an error message.
var serverErrorStatus = regexp.MustCompile(`\b5\d\d\b`)

// Do runs fn, retrying on retriable errors per the given policy using
// exponential backoff with full jitter, honoring ctx cancellation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !Retriable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := fullJitterDelay(p, attempt)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return &ErrExhausted{Attempts: p.MaxAttempts, Last: last}
}

func fullJitterDelay(p Policy, attempt int) time.Duration {
	capped := math.Min(float64(p.BaseDelay)*math.Pow(p.ExpBase, float64(attempt)), float64(p.MaxDelay))
	jittered := capped * (0.5 + rand.Float64())
	return time.Duration(jittered)
}

// NewExponentialBackOff exposes the cenkalti/backoff/v5 policy for call
// sites (e.g. the LLM streaming client) that want its context-aware retry
// helper instead of Do's simpler loop.
func NewExponentialBackOff(p Policy) *backoff.ExponentialBackOff {
	p = p.withDefaults()
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		MaxInterval:         p.MaxDelay,
		Multiplier:          p.ExpBase,
		RandomizationFactor: 0.5,
	}
}
