// Package retry implements jdbx's retry-and-cancellation envelope (spec
// §4.6): a policy merged operation > collection > database, executed with
// github.com/cenkalti/backoff/v4, honouring context cancellation both at
// entry and mid-delay. Grounded on the teacher's
// internal/storage/dolt/store.go withRetry/newServerRetryBackoff pattern,
// generalised from a single hard-coded 30s server-mode policy to a
// merge-by-level policy record.
package retry

import "time"

// Policy configures one level of the operation/collection/database
// hierarchy (spec §4.6 step 2). A nil *bool Enabled means "inherit"; an
// explicit false at any level disables retries unconditionally.
type Policy struct {
	Enabled       *bool
	MinTimeout    time.Duration
	MaxTimeout    time.Duration
	Factor        float64
	MaxRetries    int
	MaxRetryTime  time.Duration
	Randomization float64
	ShouldRetry   func(error) bool
	OnFailedAttempt func(Attempt)
}

// Attempt describes one failed attempt, passed to OnFailedAttempt (spec
// §4.6 step 5).
type Attempt struct {
	Err           error
	AttemptNumber int
	RetriesLeft   int
	ElapsedTime   time.Duration
	Delay         time.Duration
}

// Default returns the baseline policy every Database starts with: up to 5
// retries, 50ms-2s exponential backoff, 30s overall cap, ±50% randomisation
// of each delay.
func Default() Policy {
	return Policy{
		MinTimeout:    50 * time.Millisecond,
		MaxTimeout:    2 * time.Second,
		Factor:        2,
		MaxRetries:    5,
		MaxRetryTime:  30 * time.Second,
		Randomization: 0.5,
	}
}

// Merge layers override on top of base: any field override explicitly
// sets (non-zero value, or Enabled/ShouldRetry/OnFailedAttempt non-nil)
// replaces base's (spec §4.6 step 2, "operation-level over collection-level
// over database-level"). The one exception is Enabled: an explicit false
// already in base is kept, so a disabled level cannot be re-enabled.
func Merge(base, override Policy) Policy {
	out := base
	if override.Enabled != nil && out.enabled() {
		out.Enabled = override.Enabled
	}
	if override.MinTimeout != 0 {
		out.MinTimeout = override.MinTimeout
	}
	if override.MaxTimeout != 0 {
		out.MaxTimeout = override.MaxTimeout
	}
	if override.Factor != 0 {
		out.Factor = override.Factor
	}
	if override.MaxRetries != 0 {
		out.MaxRetries = override.MaxRetries
	}
	if override.MaxRetryTime != 0 {
		out.MaxRetryTime = override.MaxRetryTime
	}
	if override.Randomization != 0 {
		out.Randomization = override.Randomization
	}
	if override.ShouldRetry != nil {
		out.ShouldRetry = override.ShouldRetry
	}
	if override.OnFailedAttempt != nil {
		out.OnFailedAttempt = override.OnFailedAttempt
	}
	return out
}

// MergeAll merges database < collection < operation, in that precedence
// order (later layers win).
func MergeAll(layers ...Policy) Policy {
	out := Default()
	for _, l := range layers {
		out = Merge(out, l)
	}
	return out
}

// enabled reports whether retries are active for p; the zero value (no
// level ever set Enabled=false) defaults to true.
func (p Policy) enabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func disabled() *bool {
	f := false
	return &f
}

// Disabled is a convenience Policy fragment for retry:false at any level.
func Disabled() Policy { return Policy{Enabled: disabled()} }
