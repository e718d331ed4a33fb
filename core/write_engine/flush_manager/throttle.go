package flushmanager

import (
	"golang.org/x/time/rate"
)

// NewWriteLimiter builds a byte-rate limiter for page write-back. The burst
// is one page so a single write never waits on a partial token bucket.
// A non-positive rate disables throttling and returns nil.
func NewWriteLimiter(bytesPerSec int64, pageSize int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := pageSize
	if bytesPerSec > int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}
