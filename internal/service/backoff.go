package service

import (
	"fmt"
	"time"
)

// defaultBackoff mirrors the configured default: 1min, 5min, 15min.
var defaultBackoff = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// Backoff is a fixed delay table indexed by retry count. A deterministic
// lookup, not a computation, so retry schedules are reproducible.
type Backoff struct {
	delays []time.Duration
}

func NewBackoff(delays []time.Duration) Backoff {
	if len(delays) == 0 {
		delays = defaultBackoff
	}
	return Backoff{delays: delays}
}

// ParseBackoff builds a Backoff from duration strings ("1m", "5m", ...).
func ParseBackoff(values []string) (Backoff, error) {
	if len(values) == 0 {
		return NewBackoff(nil), nil
	}
	delays := make([]time.Duration, len(values))
	for i, v := range values {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Backoff{}, fmt.Errorf("invalid retry backoff %q: %w", v, err)
		}
		delays[i] = d
	}
	return NewBackoff(delays), nil
}

// Delay returns the wait before the given retry (1-based, the new retry
// count after a failure). Retries past the table length get the last
// configured delay.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > len(b.delays) {
		return b.delays[len(b.delays)-1]
	}
	return b.delays[retry-1]
}
