package util

import "time"

// NewDate is midnight UTC for a calendar day. Candles and rebalance schedules
// work at date granularity, so tests build their times through this.
func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
