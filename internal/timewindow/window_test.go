package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculator_Compute(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name                  string
		lastLoadTimestamp     *time.Time
		maxQueryPeriodSeconds int
		wantFrom              time.Time
		wantTo                time.Time
	}{
		{
			name:                  "first run uses default lookback",
			lastLoadTimestamp:     nil,
			maxQueryPeriodSeconds: 3600,
			wantFrom:              now.Add(-DefaultLookback),
			wantTo:                now.Add(-DefaultLookback).Add(3600 * time.Second),
		},
		{
			name:                  "watermark caps window at maxQueryPeriodSeconds",
			lastLoadTimestamp:     tsPtr(now.Add(-2 * time.Hour)),
			maxQueryPeriodSeconds: 3600,
			wantFrom:              now.Add(-2 * time.Hour),
			wantTo:                now.Add(-2 * time.Hour).Add(3600 * time.Second),
		},
		{
			name:                  "window capped at now when idealTo exceeds now",
			lastLoadTimestamp:     tsPtr(now.Add(-30 * time.Minute)),
			maxQueryPeriodSeconds: 3600,
			wantFrom:              now.Add(-30 * time.Minute),
			wantTo:                now,
		},
		{
			name:                  "watermark equal to now yields minimal 1s window",
			lastLoadTimestamp:     tsPtr(now),
			maxQueryPeriodSeconds: 3600,
			wantFrom:              now,
			wantTo:                now.Add(time.Second),
		},
		{
			name:                  "clock skew (watermark in future) treated as first run",
			lastLoadTimestamp:     tsPtr(now.Add(time.Hour)),
			maxQueryPeriodSeconds: 3600,
			wantFrom:              now.Add(-DefaultLookback),
			wantTo:                now.Add(-DefaultLookback).Add(3600 * time.Second),
		},
	}

	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := c.Compute(tt.lastLoadTimestamp, tt.maxQueryPeriodSeconds, now)
			assert.Equal(t, tt.wantFrom, w.FromTime)
			assert.Equal(t, tt.wantTo, w.ToTime)
			assert.True(t, w.FromTime.Before(w.ToTime), "window must never be zero-width or inverted")
		})
	}
}

func tsPtr(t time.Time) *time.Time { return &t }
