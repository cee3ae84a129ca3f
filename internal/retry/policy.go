// Package retry repeats output writes that fail for transient reasons.
package retry

import (
	"context"
	"errors"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Policy bounds how often and how slowly an operation is repeated.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultPolicy is used for output writes when the configuration has no retry section.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: 50 * time.Millisecond, Max: time.Second, MaxRetries: 3}
}

// FromConfig fills unset or unknown fields of c from DefaultPolicy and keeps
// Initial at or below Max.
func FromConfig(c config.RetryConfig) Policy {
	p := DefaultPolicy()
	switch c.Mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = c.Mode
	}
	if c.Initial > 0 {
		p.Initial = c.Initial
	}
	if c.Max > 0 {
		p.Max = c.Max
	}
	if c.MaxRetries >= 0 {
		p.MaxRetries = c.MaxRetries
	}
	p.Initial = min(p.Initial, p.Max)
	return p
}

// Delay is the wait before retry n, counting from 1.
func (p Policy) Delay(n int) time.Duration {
	var d time.Duration
	switch {
	case n <= 0:
		return 0
	case p.Mode == config.RetryBackoffFixed:
		d = p.Initial
	case p.Mode == config.RetryBackoffLinear:
		d = p.Initial * time.Duration(n)
	case n > 30:
		d = p.Max
	default:
		d = p.Initial << (n - 1)
	}
	return min(d, p.Max)
}

// Do calls fn until it succeeds or the policy gives up. Errors for which
// transient returns false end the loop at once. A nil transient retries
// only classified errors marked retryable.
func (p Policy) Do(ctx context.Context, transient func(error) bool, fn func() error) error {
	if transient == nil {
		transient = ferrors.IsRetryable
	}
	for n := 1; ; n++ {
		err := fn()
		if err == nil || n > p.MaxRetries || !transient(err) {
			return err
		}
		t := time.NewTimer(p.Delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}
