package writeback

import (
	"regexp"
	"sync"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
)

// DefaultRateLimitThreshold is how many rate-limit lines abort a transfer.
const DefaultRateLimitThreshold = 5

// Backoff counts rate-limit signatures in transfer output. The count only
// goes up until the threshold fires or a cycle completes.
type Backoff struct {
	pattern   *regexp.Regexp
	threshold int
	cooldown  time.Duration

	mu    sync.Mutex
	count int
}

func NewBackoff(pattern *regexp.Regexp, threshold int, cooldown time.Duration) *Backoff {
	if threshold <= 0 {
		threshold = DefaultRateLimitThreshold
	}
	return &Backoff{pattern: pattern, threshold: threshold, cooldown: cooldown}
}

// Observe checks one output line. It returns true when this line reaches
// the threshold, and resets the count in that case.
func (b *Backoff) Observe(line string) bool {
	if b.pattern == nil || !b.pattern.MatchString(line) {
		return false
	}
	metrics.RateLimitHits.Inc()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	if b.count >= b.threshold {
		b.count = 0
		return true
	}
	return false
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.count = 0
	b.mu.Unlock()
}

func (b *Backoff) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cooldown is the polling interval to switch to once the threshold fires.
func (b *Backoff) Cooldown() time.Duration {
	return b.cooldown
}
