// Package timewindow computes the half-open query window [FromTime, ToTime)
// a loader run should cover, per the rules in SPEC_FULL.md §4.2.
package timewindow

import (
	"log/slog"
	"time"
)

// DefaultLookback is used for a loader's first run, when no watermark
// exists yet.
const DefaultLookback = 24 * time.Hour

// Window is the half-open UTC interval a single run queries.
type Window struct {
	FromTime time.Time
	ToTime   time.Time
}

// Duration returns the window's span.
func (w Window) Duration() time.Duration {
	return w.ToTime.Sub(w.FromTime)
}

// Calculator computes windows in UTC only; timezone offset handling is the
// Query Runner's responsibility (§4.2: "this component works exclusively
// in UTC").
type Calculator struct {
	DefaultLookback time.Duration
	Logger          *slog.Logger
}

// New returns a Calculator with DefaultLookback applied if zero.
func New(logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{DefaultLookback: DefaultLookback, Logger: logger}
}

// Compute implements §4.2 verbatim: fromTime from the watermark (or a
// default lookback on first run / clock skew), toTime capped at `now` and
// at `maxQueryPeriodSeconds` past fromTime, with a minimal 1-second window
// substituted when the natural window would be zero-width or negative.
func (c *Calculator) Compute(lastLoadTimestamp *time.Time, maxQueryPeriodSeconds int, now time.Time) Window {
	lookback := c.DefaultLookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	var fromTime time.Time
	switch {
	case lastLoadTimestamp == nil:
		fromTime = now.Add(-lookback)
	case lastLoadTimestamp.After(now):
		// Clock-skew guard: treat as first run.
		c.Logger.Warn("lastLoadTimestamp is in the future, treating as first run",
			"lastLoadTimestamp", lastLoadTimestamp, "now", now)
		fromTime = now.Add(-lookback)
	default:
		fromTime = *lastLoadTimestamp
	}

	idealTo := fromTime.Add(time.Duration(maxQueryPeriodSeconds) * time.Second)
	toTime := idealTo
	if now.Before(idealTo) {
		toTime = now
	}

	if !fromTime.Before(toTime) {
		c.Logger.Warn("computed window was zero-width or negative, substituting minimal 1s window",
			"fromTime", fromTime, "toTime", toTime)
		toTime = fromTime.Add(time.Second)
	}

	return Window{FromTime: fromTime, ToTime: toTime}
}
