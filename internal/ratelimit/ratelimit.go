// Package ratelimit guards outbound API calls with a minimum interval between
// calls and a ceiling on calls per calendar day.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrDailyLimit is returned by Acquire once the day's ceiling is used up.
// Callers stop issuing calls for the rest of the cycle.
var ErrDailyLimit = errors.New("daily call limit reached")

// Gate is safe for concurrent use.
type Gate struct {
	name    string
	limiter *rate.Limiter
	daily   int
	loc     *time.Location
	now     func() time.Time

	mu   sync.Mutex
	day  string
	used int
}

// New returns a gate allowing one call per minInterval and at most dailyLimit
// calls per day in loc. A zero interval or limit disables that constraint.
// A nil loc means Asia/Seoul, where the upstream quotas reset.
func New(name string, minInterval time.Duration, dailyLimit int, loc *time.Location) *Gate {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	if loc == nil {
		loc = Seoul()
	}
	return &Gate{
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
		daily:   dailyLimit,
		loc:     loc,
		now:     time.Now,
	}
}

// Unlimited returns a gate that never blocks or refuses.
func Unlimited(name string) *Gate {
	return New(name, 0, 0, time.UTC)
}

// Seoul returns the Korea Standard Time zone, falling back to a fixed UTC+9
// zone when tzdata is missing.
func Seoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

func (g *Gate) Name() string { return g.name }

// Acquire reserves one call, waiting out the minimum interval. It returns
// ErrDailyLimit without waiting when the ceiling is reached, or the context
// error if ctx ends first; neither consumes quota.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	g.rollover()
	if g.daily > 0 && g.used >= g.daily {
		g.mu.Unlock()
		return ErrDailyLimit
	}
	g.used++
	g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		g.mu.Lock()
		g.used--
		g.mu.Unlock()
		return err
	}
	return nil
}

// Used returns the number of calls made today.
func (g *Gate) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.used
}

// Remaining returns the calls left today, or -1 when there is no ceiling.
func (g *Gate) Remaining() int {
	if g.daily <= 0 {
		return -1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	if r := g.daily - g.used; r > 0 {
		return r
	}
	return 0
}

// rollover resets the counter on a new calendar day. g.mu must be held.
func (g *Gate) rollover() {
	today := g.now().In(g.loc).Format(time.DateOnly)
	if today != g.day {
		g.day = today
		g.used = 0
	}
}
