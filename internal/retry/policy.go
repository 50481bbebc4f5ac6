// Package retry implements the category-indexed retry policies that wrap
// processor and sink calls. Four named policies cover database,
// filesystem, and network failures plus a catch-all; each emits attempt
// and outcome metrics and surfaces the original error once exhausted.
package retry

import (
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/metrics"
)

// Policy names.
const (
	PolicyDatabase   = "database"
	PolicyFilesystem = "filesystem"
	PolicyNetwork    = "network"
	PolicySimple     = "simple"
)

// Policy describes one retry discipline.
type Policy struct {
	Name        string
	MaxAttempts int
	// Backoff returns the delay before attempt n+1 (n is 1-based).
	Backoff func(attempt int) time.Duration
	// Retryable decides whether the error is worth another attempt.
	Retryable func(error) bool
}

// Policies is the set of configured policies plus global overrides.
type Policies struct {
	byName map[string]Policy
}

// Overrides adjust the policies from global configuration. MaxAttempts
// applies to every policy; BaseDelay scales the database, filesystem,
// and simple curves, while the network curve stays fixed.
// Zero values leave the policy defaults untouched.
type Overrides struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewPolicies builds the standard policy set with optional overrides.
func NewPolicies(ov Overrides) *Policies {
	base := time.Second
	if ov.BaseDelay > 0 {
		base = ov.BaseDelay
	}

	mk := func(p Policy) Policy {
		if ov.MaxAttempts > 0 {
			p.MaxAttempts = ov.MaxAttempts
		}
		return p
	}

	ps := &Policies{byName: make(map[string]Policy)}
	ps.byName[PolicyDatabase] = mk(Policy{
		Name:        PolicyDatabase,
		MaxAttempts: 3,
		Backoff: func(n int) time.Duration {
			return base << (n - 1) // 1s, 2s, 4s
		},
		Retryable: databaseRetryable,
	})
	ps.byName[PolicyFilesystem] = mk(Policy{
		Name:        PolicyFilesystem,
		MaxAttempts: 5,
		Backoff: func(n int) time.Duration {
			return time.Duration(n) * (base / 2) // 500ms, 1s, 1.5s... at the default base
		},
		Retryable: filesystemRetryable,
	})
	ps.byName[PolicyNetwork] = mk(Policy{
		Name:        PolicyNetwork,
		MaxAttempts: 4,
		Backoff: func(n int) time.Duration {
			return (2*time.Second)<<(n-1) + time.Duration(rand.Int63n(int64(time.Second)))
		},
		Retryable: networkRetryable,
	})
	ps.byName[PolicySimple] = mk(Policy{
		Name:        PolicySimple,
		MaxAttempts: 2,
		Backoff: func(int) time.Duration {
			return base
		},
		Retryable: func(error) bool { return true },
	})
	return ps
}

// ByName returns the named policy, falling back to simple.
func (ps *Policies) ByName(name string) Policy {
	if p, ok := ps.byName[name]; ok {
		return p
	}
	return ps.byName[PolicySimple]
}

// ForCategory maps an error category to its policy.
func (ps *Policies) ForCategory(cat faults.Category) Policy {
	switch cat {
	case faults.CategoryDatabase:
		return ps.byName[PolicyDatabase]
	case faults.CategoryFileSystem:
		return ps.byName[PolicyFilesystem]
	case faults.CategoryNetwork:
		return ps.byName[PolicyNetwork]
	default:
		return ps.byName[PolicySimple]
	}
}

// Do runs fn under the policy. Re-attempts emit a retry metric; terminal
// outcomes emit success or failure metrics. The error from the last
// attempt is returned unchanged once attempts are exhausted or the error
// is not retryable.
func (p Policy) Do(ctx context.Context, reg *metrics.Registry, fn func() error) error {
	labels := metrics.Labels{"name": p.Name}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			reg.Inc(metrics.RetryAttempts, labels)
			if werr := sleep(ctx, p.Backoff(attempt-1)); werr != nil {
				return err
			}
		}

		err = fn()
		if err == nil {
			reg.Inc(metrics.RetrySuccess, labels)
			return nil
		}
		if !p.Retryable(err) {
			break
		}
	}

	reg.Inc(metrics.RetryFailure, labels)
	return err
}

// ResumeDo continues a retry sequence whose first attempt already
// failed with firstErr. The prior failure counts as attempt 1, so the
// total number of invocations (including the caller's) never exceeds
// MaxAttempts. Metrics behave as in Do.
func (p Policy) ResumeDo(ctx context.Context, reg *metrics.Registry, firstErr error, fn func() error) error {
	labels := metrics.Labels{"name": p.Name}

	err := firstErr
	for attempt := 2; attempt <= p.MaxAttempts; attempt++ {
		if !p.Retryable(err) {
			break
		}
		reg.Inc(metrics.RetryAttempts, labels)
		if werr := sleep(ctx, p.Backoff(attempt-1)); werr != nil {
			return err
		}

		if err = fn(); err == nil {
			reg.Inc(metrics.RetrySuccess, labels)
			return nil
		}
	}

	reg.Inc(metrics.RetryFailure, labels)
	return err
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func databaseRetryable(err error) bool {
	if errorsAsNetOrTimeout(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "database") ||
		strings.Contains(msg, "connection failed") ||
		strings.Contains(msg, "temporary failure")
}

func filesystemRetryable(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file") ||
		strings.Contains(msg, "directory") ||
		strings.Contains(msg, "permission") ||
		strings.Contains(msg, "access denied")
}

func networkRetryable(err error) bool {
	if errorsAsNetOrTimeout(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network")
}

func errorsAsNetOrTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
