package forecast

import (
	"fmt"
	"time"
)

// ParseTargetTime resolves a target-time string to an absolute time. It
// accepts the relative presets 6h, 24h, 48h, tomorrow_morning and
// tomorrow_afternoon, or an RFC 3339 timestamp.
func ParseTargetTime(s string, now time.Time) (time.Time, error) {
	switch s {
	case "6h":
		return now.Add(6 * time.Hour), nil
	case "24h":
		return now.Add(24 * time.Hour), nil
	case "48h":
		return now.Add(48 * time.Hour), nil
	case "tomorrow_morning":
		return tomorrowAt(now, 8), nil
	case "tomorrow_afternoon":
		return tomorrowAt(now, 14), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown target time %q", s)
	}
	return t, nil
}

func tomorrowAt(now time.Time, hour int) time.Time {
	d := now.AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
}
