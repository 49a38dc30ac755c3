package ratelimit

import (
	"time"
)

// Window is a quota bucket a provider's usage is tracked over.
type Window string

const (
	WindowMinute Window = "minute"
	WindowDay    Window = "day"
	WindowMonth  Window = "month"
)

// minuteWindow is the idle time after which the per-minute counter resets.
const minuteWindow = 60 * time.Second

// Limits holds the free-tier ceilings of a provider.
type Limits struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerDay    int `json:"requests_per_day" yaml:"requests_per_day"`
	TokensPerMonth    int `json:"tokens_per_month" yaml:"tokens_per_month"`
}

// Usage holds the mutable counters of a provider.
//
// Counters only grow between resets and are zeroed by Reset alone.
type Usage struct {
	RequestsThisMinute int        `json:"requests_this_minute"`
	RequestsToday      int        `json:"requests_today"`
	TokensThisMonth    int        `json:"tokens_this_month"`
	LastRequestTime    time.Time  `json:"last_request_time"`
	LastResetDay       int        `json:"last_reset_day"`
	LastResetMonth     time.Month `json:"last_reset_month"`
}

// NewUsage returns zeroed counters anchored at now.
func NewUsage(now time.Time) Usage {
	return Usage{
		LastResetDay:   now.Day(),
		LastResetMonth: now.Month(),
	}
}

// Reset zeroes every counter whose window has rolled over and returns
// the windows that were reset.
//
// The daily window compares the day of month only, so a process idle for
// exactly one month on the same day keeps yesterday's count.
func (u *Usage) Reset(now time.Time) []Window {
	var reset []Window

	if now.Sub(u.LastRequestTime) > minuteWindow && u.RequestsThisMinute != 0 {
		u.RequestsThisMinute = 0
		reset = append(reset, WindowMinute)
	}

	if now.Day() != u.LastResetDay {
		u.RequestsToday = 0
		u.LastResetDay = now.Day()
		reset = append(reset, WindowDay)
	}

	if now.Month() != u.LastResetMonth {
		u.TokensThisMonth = 0
		u.LastResetMonth = now.Month()
		reset = append(reset, WindowMonth)
	}

	return reset
}

// HasQuota reports whether every counter is strictly below its limit.
func (u Usage) HasQuota(limits Limits) bool {
	_, exhausted := u.Exhausted(limits)
	return !exhausted
}

// Exhausted returns the first window whose counter reached its limit.
func (u Usage) Exhausted(limits Limits) (Window, bool) {
	switch {
	case u.RequestsThisMinute >= limits.RequestsPerMinute:
		return WindowMinute, true
	case u.RequestsToday >= limits.RequestsPerDay:
		return WindowDay, true
	case u.TokensThisMonth >= limits.TokensPerMonth:
		return WindowMonth, true
	}
	return "", false
}

// Record counts one successful request that consumed tokens.
func (u *Usage) Record(tokens int, now time.Time) {
	if tokens < 0 {
		tokens = 0
	}
	u.RequestsThisMinute++
	u.RequestsToday++
	u.TokensThisMonth += tokens
	u.LastRequestTime = now
}

// ExhaustMinute raises the per-minute counter to its limit. The counter
// clears on the next minute rollover like any other request.
func (u *Usage) ExhaustMinute(limits Limits, now time.Time) {
	if u.RequestsThisMinute < limits.RequestsPerMinute {
		u.RequestsThisMinute = limits.RequestsPerMinute
	}
	u.LastRequestTime = now
}

// Penalize adds an artificial charge to the daily counter.
func (u *Usage) Penalize(requests int) {
	if requests > 0 {
		u.RequestsToday += requests
	}
}

// MinuteRemaining is the fraction of the per-minute quota still unused.
func (u Usage) MinuteRemaining(limits Limits) float64 {
	return remaining(u.RequestsThisMinute, limits.RequestsPerMinute)
}

// DayRemaining is the fraction of the daily quota still unused.
func (u Usage) DayRemaining(limits Limits) float64 {
	return remaining(u.RequestsToday, limits.RequestsPerDay)
}

func remaining(used, limit int) float64 {
	if limit <= 0 || used >= limit {
		return 0
	}
	if used <= 0 {
		return 1
	}
	return float64(limit-used) / float64(limit)
}
