package backoff

import (
	"fmt"
	"time"
)

// Backoff yields exponentially growing delays between reconnect attempts
type Backoff struct {
	startDuration time.Duration
	maxDuration   time.Duration
	count         int
}

func New(startDuration, maxDuration time.Duration) (*Backoff, error) {
	if startDuration <= 0 {
		return nil, fmt.Errorf("startDuration must be greater than 0")
	}
	if maxDuration < startDuration {
		return nil, fmt.Errorf("maxDuration must be greater than or equal to startDuration")
	}

	return &Backoff{
		startDuration: startDuration,
		maxDuration:   maxDuration,
	}, nil
}

// Next returns startDuration doubled once per previous attempt, capped at maxDuration
func (b *Backoff) Next() time.Duration {
	b.count++

	duration := b.startDuration
	for i := 1; i < b.count && duration < b.maxDuration; i++ {
		duration *= 2
	}

	if duration > b.maxDuration {
		duration = b.maxDuration
	}

	return duration
}

func (b *Backoff) Reset() {
	b.count = 0
}

func (b *Backoff) Count() int {
	return b.count
}
