package tfutils

import (
	"errors"
	"time"
)

// ParseTimeframe parses a timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, errors.New("unsupported timeframe")
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// GetTimeframeMillis returns the timeframe length in epoch milliseconds.
// Candle intervals are half-open millisecond ranges, so a 1m bar spans
// [openTime, openTime+59999].
func GetTimeframeMillis(timeframe string) int64 {
	return GetTimeframeDuration(timeframe).Milliseconds()
}

// BucketOpenMillis truncates a millisecond timestamp down to the opening
// instant of its timeframe bucket.
func BucketOpenMillis(ts int64, timeframe string) int64 {
	span := GetTimeframeMillis(timeframe)
	if span == 0 {
		return ts
	}
	return ts - ts%span
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}
