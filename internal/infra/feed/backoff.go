package feed

import "time"

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the reconnect delay for a retry count: 1s, 2s, 4s ... capped at 60s.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 6 {
		return maxDelay
	}
	delay := baseDelay << uint(retryCount)
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
