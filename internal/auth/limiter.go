package auth

import (
	"sync"
	"time"
)

const (
	failureWindow  = 5 * time.Minute
	failureMaxHits = 10

	// failurePruneThreshold is the number of tracked IPs above which
	// expired entries are dropped.
	failurePruneThreshold = 1000
)

// failureLimiter tracks failed authentications per IP with a sliding
// window. After failureMaxHits within the window the IP is refused until
// the window moves past them.
type failureLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newFailureLimiter() *failureLimiter {
	return &failureLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// blocked reports whether ip is currently refused.
func (fl *failureLimiter) blocked(ip string) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	cutoff := fl.now().Add(-failureWindow)

	if len(fl.failures) > failurePruneThreshold {
		for k, times := range fl.failures {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(fl.failures, k)
			}
		}
	}

	recent := fl.failures[ip][:0]
	for _, t := range fl.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(fl.failures, ip)
	} else {
		fl.failures[ip] = recent
	}

	return len(recent) >= failureMaxHits
}

func (fl *failureLimiter) record(ip string) {
	fl.mu.Lock()
	fl.failures[ip] = append(fl.failures[ip], fl.now())
	fl.mu.Unlock()
}
