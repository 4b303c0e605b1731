package webhook

import (
	"sync"
	"time"
)

// rateLimiter tracks request timestamps per IP over a one-minute sliding
// window. Entries with no recent requests are swept periodically.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]int64
	limit    int
	stop     chan struct{}
}

func newRateLimiter(perMinute int) *rateLimiter {
	rl := &rateLimiter{
		requests: make(map[string][]int64),
		limit:    perMinute,
		stop:     make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow records the request and reports whether it fits within the window.
func (rl *rateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	recent := trimWindow(rl.requests[ip], now)

	if len(recent) >= rl.limit {
		rl.requests[ip] = recent
		return false
	}

	rl.requests[ip] = append(recent, now)
	return true
}

// RetryAfter returns seconds until the oldest request in the window expires.
func (rl *rateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := rl.requests[ip]
	if len(recent) == 0 {
		return 0
	}

	ms := 60_000 - (time.Now().UnixMilli() - recent[0])
	if ms < 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

func (rl *rateLimiter) Stop() {
	close(rl.stop)
}

func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now().UnixMilli()
			for ip, times := range rl.requests {
				recent := trimWindow(times, now)
				if len(recent) == 0 {
					delete(rl.requests, ip)
				} else {
					rl.requests[ip] = recent
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func trimWindow(times []int64, now int64) []int64 {
	recent := times[:0]
	for _, t := range times {
		if now-t < 60_000 {
			recent = append(recent, t)
		}
	}
	return recent
}
