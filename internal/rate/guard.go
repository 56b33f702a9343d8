// Package rate paces outbound calls to the vendor cloud. The API sits behind
// an AWS gateway that throttles aggressively, so every request flows through
// a shared token bucket and a cooldown learned from Retry-After responses.
package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CooldownError is returned while the provider has asked us to back off.
type CooldownError struct {
	RetryAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cloud api cooling down until %s", e.RetryAt.UTC().Format(time.RFC3339))
}

// Guard enforces request pacing for one provider.
type Guard struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	cooldown time.Time
	now      func() time.Time
}

// NewGuard builds a guard allowing rps sustained requests with the given burst.
func NewGuard(rps float64, burst int) *Guard {
	return &Guard{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}
}

// Wrap returns a copy of base whose transport waits on the guard before each
// request and records throttle responses after.
func Wrap(base *http.Client, g *Guard) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if retryAt, ok := rt.guard.coolingDown(); ok {
		requestsBlocked.Inc()
		return nil, &CooldownError{RetryAt: retryAt}
	}
	if err := rt.guard.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.recordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

func (g *Guard) coolingDown() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cooldown.IsZero() || !g.now().Before(g.cooldown) {
		return time.Time{}, false
	}
	return g.cooldown, true
}

func (g *Guard) recordResponse(status int, headers http.Header) {
	lastStatusGauge.Set(float64(status))
	if status != http.StatusTooManyRequests {
		return
	}
	throttleResponses.Inc()

	after := retryAfterSeconds(headers)
	if after <= 0 {
		after = defaultCooldownSeconds
	}
	g.mu.Lock()
	g.cooldown = g.now().Add(time.Duration(after) * time.Second)
	g.mu.Unlock()
	retryAfterGauge.Set(float64(after))
}

const defaultCooldownSeconds = 30

func retryAfterSeconds(h http.Header) int {
	val := h.Get("Retry-After")
	if val == "" {
		return -1
	}
	secs, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return secs
}
