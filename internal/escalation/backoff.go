package escalation

import "time"

// BackoffStrategy spaces out repeated forced kills of a process that
// survived SIGNAL_FORCE.
type BackoffStrategy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NewBackoffStrategy starts at two intervals and doubles up to five minutes.
func NewBackoffStrategy(interval time.Duration) *BackoffStrategy {
	if interval <= 0 {
		interval = time.Second
	}
	return &BackoffStrategy{
		InitialDelay: 2 * interval,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

// CalculateDelay calculates delay for attempt number
func (bs *BackoffStrategy) CalculateDelay(attempt int) time.Duration {
	delay := float64(bs.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= bs.Multiplier
	}

	result := time.Duration(delay)
	if result > bs.MaxDelay {
		result = bs.MaxDelay
	}
	return result
}
