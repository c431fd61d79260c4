package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v62/github"
)

// ErrQuotaExceeded can be wrapped by any source to signal that the remote quota is exhausted.
var ErrQuotaExceeded = errors.New("api quota exceeded")

// ErrRetriesExhausted is returned when a call is still over quota after RetryPolicy.MaxRetries retries.
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// DefaultSafetyMargin is the remaining-quota threshold below which the fetcher waits for the reset.
const DefaultSafetyMargin = 100

// Quota is a snapshot of the remote rate-limit state.
type Quota struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Resource names a rate-limit bucket. REST, search and GraphQL calls are counted separately.
type Resource string

const (
	ResourceCore    Resource = "core"
	ResourceSearch  Resource = "search"
	ResourceGraphQL Resource = "graphql"
)

// QuotaChecker reports the current rate-limit state of one bucket of the remote API.
type QuotaChecker interface {
	Quota(ctx context.Context, resource Resource) (Quota, error)
}

// RetryPolicy bounds how the fetcher waits for quota.
type RetryPolicy struct {
	// SafetyMargin is the remaining quota below which a retry waits until reset.
	SafetyMargin int
	// MaxRetries caps retries per call. Zero retries forever.
	MaxRetries int
	// MaxWait caps a single wait. Zero means no cap.
	MaxWait time.Duration
	// ResetBuffer is added to the reset time so the retry lands after the window rolls over.
	ResetBuffer time.Duration
}

// DefaultRetryPolicy waits indefinitely for the quota to reset, one hour at most per wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		SafetyMargin: DefaultSafetyMargin,
		MaxWait:      time.Hour,
		ResetBuffer:  time.Second,
	}
}

// RateLimitedFetcher re-issues calls that fail because the quota is exhausted.
// It blocks the calling goroutine while waiting for the reset. It is safe for concurrent use.
type RateLimitedFetcher struct {
	quota   QuotaChecker
	policy  RetryPolicy
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	retries atomic.Int64
}

// FetcherOption customises a RateLimitedFetcher.
type FetcherOption func(*RateLimitedFetcher)

// WithSleep replaces the blocking wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *RateLimitedFetcher) { f.sleep = sleep }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *RateLimitedFetcher) { f.now = now }
}

// NewRateLimitedFetcher creates a fetcher that consults quota whenever a call is rejected.
func NewRateLimitedFetcher(quota QuotaChecker, policy RetryPolicy, logger *log.Logger, opts ...FetcherOption) *RateLimitedFetcher {
	f := &RateLimitedFetcher{
		quota:  quota,
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Retries returns how many retries the fetcher has performed so far.
func (f *RateLimitedFetcher) Retries() int {
	return int(f.retries.Load())
}

// Do runs a REST call against the core bucket. See DoOn.
func Do[T any](ctx context.Context, f *RateLimitedFetcher, call func(ctx context.Context) (T, error)) (T, error) {
	return DoOn(ctx, f, ResourceCore, call)
}

// DoOn runs call and retries it for as long as it fails with a quota-exceeded
// error, suspending until resource's quota resets. Any other error is returned unchanged.
func DoOn[T any](ctx context.Context, f *RateLimitedFetcher, resource Resource, call func(ctx context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		result, err := call(ctx)
		if err == nil || !IsQuotaExceeded(err) {
			return result, err
		}

		var zero T
		if f.policy.MaxRetries > 0 && attempt >= f.policy.MaxRetries {
			return zero, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, attempt, err)
		}

		wait, werr := f.waitFor(ctx, resource, err)
		if werr != nil {
			return zero, werr
		}
		f.retries.Add(1)
		if wait > 0 {
			f.logger.Warn("Rate limit exceeded, waiting for reset", "resource", resource, "wait", wait.Round(time.Second), "attempt", attempt+1)
			if serr := f.sleep(ctx, wait); serr != nil {
				return zero, fmt.Errorf("interrupted while waiting for rate limit reset: %w", serr)
			}
		} else {
			f.logger.Debug("Rate limit signal with quota left, retrying", "resource", resource, "attempt", attempt+1)
		}
	}
}

// waitFor computes how long to suspend before retrying a call on resource that
// failed with cause. The wait targets the reset of the bucket the call draws from.
func (f *RateLimitedFetcher) waitFor(ctx context.Context, resource Resource, cause error) (time.Duration, error) {
	errReset, hasErrReset := resetFromError(cause, f.now())

	q, err := f.quota.Quota(ctx, resource)
	if err != nil {
		if !hasErrReset {
			return 0, fmt.Errorf("failed to read rate limit state: %w", err)
		}
		f.logger.Debug("Falling back to reset time carried by the error", "resource", resource, "error", err)
		q = Quota{Remaining: 0, ResetAt: errReset}
	}

	resetAt := q.ResetAt
	if q.Remaining >= f.policy.SafetyMargin {
		// The bucket still has quota; only secondary limits reject such calls,
		// and they carry their own reset.
		if !hasErrReset {
			return 0, nil
		}
		resetAt = errReset
	}

	wait := resetAt.Sub(f.now()) + f.policy.ResetBuffer
	if wait < 0 {
		wait = 0
	}
	if f.policy.MaxWait > 0 && wait > f.policy.MaxWait {
		wait = f.policy.MaxWait
	}
	return wait, nil
}

// IsQuotaExceeded reports whether err signals an exhausted API quota.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	// GraphQL reports exhaustion as a plain error message.
	return strings.Contains(strings.ToLower(err.Error()), "api rate limit exceeded")
}

func resetFromError(err error, now time.Time) (time.Time, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) && !rateErr.Rate.Reset.IsZero() {
		return rateErr.Rate.Reset.Time, true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return now.Add(*abuseErr.RetryAfter), true
	}
	return time.Time{}, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
