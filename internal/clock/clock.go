// Package clock drives the wall clock shown on the page.
package clock

import (
	"context"
	"fmt"
	"time"
)

var weekdays = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// Run calls fn with the current time right away and then on every second
// boundary until ctx is done. Each wait is computed from the clock again,
// so a slow fn never makes the display drift.
func Run(ctx context.Context, now func() time.Time, fn func(time.Time)) {
	if now == nil {
		now = time.Now
	}
	fn(now())
	for {
		t := now()
		wait := t.Truncate(time.Second).Add(time.Second).Sub(t)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(now())
		}
	}
}

// FormatTime renders HH:MM:SS.
func FormatTime(t time.Time) string {
	return t.Format("15:04:05")
}

// FormatDate renders e.g. "2月10日 (土)".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d月%d日 (%s)", int(t.Month()), t.Day(), weekdays[t.Weekday()])
}
