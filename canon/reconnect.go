package canon

import (
	"math"
	"time"
)

// exponential backoff: 1s, 2s, 4s, 8s, ... up to the ceiling
const DefaultReconnectBaseDelay = 1 * time.Second
const DefaultReconnectMaxDelay = 30 * time.Second

// `min(1s * 2^attempt, ceiling)`. Attempt 0 is the first reconnect after a loss.
func NextDelay(attempt int, ceiling time.Duration) time.Duration {
	return NextDelayWithBase(DefaultReconnectBaseDelay, attempt, ceiling)
}

func NextDelayWithBase(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i += 1 {
		if ceiling <= delay || math.MaxInt64/2 < int64(delay) {
			return ceiling
		}
		delay *= 2
	}
	return min(delay, ceiling)
}

// Tracks the attempt count for one subscription.
// The count resets on each successful open so backoff never compounds across healthy sessions.
// Not safe for concurrent use; the owning connection serializes access.
type Reconnect struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	attempt   int
}

func NewReconnect(baseDelay time.Duration, maxDelay time.Duration) *Reconnect {
	return &Reconnect{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// the delay for the current attempt. Advances the attempt count.
func (self *Reconnect) Next() time.Duration {
	delay := NextDelayWithBase(self.baseDelay, self.attempt, self.maxDelay)
	self.attempt += 1
	return delay
}

func (self *Reconnect) Reset() {
	self.attempt = 0
}

func (self *Reconnect) Attempt() int {
	return self.attempt
}
