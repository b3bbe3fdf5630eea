package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// Throttle caps how often one client IP may call the routes it guards. Every IP gets
// its own token bucket holding up to n requests that refills evenly over the window,
// so PerMinute(10) means ten quick tries and then one every six seconds.
//
// Login and sign-up each get their own Throttle: a burst of failed logins should not
// stop the same person from creating an account, and the other way round.
type Throttle struct {
	every time.Duration // Time for one request's worth of allowance to come back
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	swept   time.Time
}

// PerMinute allows n requests per minute per IP.
func PerMinute(n int) *Throttle { return newThrottle(time.Minute, n) }

// PerHour allows n requests per hour per IP.
func PerHour(n int) *Throttle { return newThrottle(time.Hour, n) }

func newThrottle(window time.Duration, n int) *Throttle {
	if n < 1 {
		n = 1
	}
	return &Throttle{
		every:   window / time.Duration(n),
		burst:   n,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Limit is the Fiber handler. A caller that is out of allowance gets 429 with a
// Retry-After header telling the app how many seconds to wait.
func (t *Throttle) Limit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if wait := t.take(c.IP()); wait > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many attempts, try again later",
			})
		}
		return c.Next()
	}
}

// take spends one request from ip's bucket. It returns zero when the request may go
// ahead, otherwise how long until it would be allowed; a refused request costs nothing.
func (t *Throttle) take(ip string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.forgetRefilled(now)

	bucket, ok := t.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.buckets[ip] = bucket
	}
	r := bucket.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return wait
	}
	return 0
}

// forgetRefilled drops the buckets that are full again. A full bucket behaves exactly
// like a new one, so forgetting it changes nothing for that IP. Runs at most once per
// refill window.
func (t *Throttle) forgetRefilled(now time.Time) {
	window := t.every * time.Duration(t.burst)
	if now.Sub(t.swept) < window {
		return
	}
	t.swept = now
	for ip, bucket := range t.buckets {
		if bucket.TokensAt(now) >= float64(t.burst) {
			delete(t.buckets, ip)
		}
	}
}
