package realtime

import (
	"math/rand"
	"time"
)

// backoff computes reconnect delays: the base delay doubles per attempt,
// gains up to 50% random jitter, and is capped at max. maxAttempts bounds
// the number of retries before the manager gives up for good.
type backoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	attempt     int
}

func newBackoff(base, max time.Duration, maxAttempts int) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max, maxAttempts: maxAttempts}
}

// exhausted reports whether the retry bound has been reached.
func (b *backoff) exhausted() bool {
	return b.maxAttempts > 0 && b.attempt >= b.maxAttempts
}

// next returns the delay for the upcoming retry and advances the attempt
// counter.
func (b *backoff) next() time.Duration {
	delay := b.base
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.max {
			delay = b.max
			break
		}
	}
	b.attempt++

	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	if delay+jitter > b.max {
		return b.max
	}
	return delay + jitter
}

// reset clears the attempt counter after a successful connection.
func (b *backoff) reset() {
	b.attempt = 0
}
