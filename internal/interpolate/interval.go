package interpolate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// Duration parses an interval string ("1m", "5m", "1h", "1d") into a
// time.Duration. Day/week units have no native time.ParseDuration support.
func Duration(interval types.Interval) (time.Duration, error) {
	s := string(interval)
	if len(s) < 2 {
		return 0, fmt.Errorf("interpolate: invalid interval %q", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("interpolate: invalid interval %q: %w", s, err)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("interpolate: unsupported interval unit in %q", s)
	}
}

// isCrossInterval reports whether datetime marks the start of a new bucket
// of the given interval, i.e. it aligns exactly to an interval boundary.
func isCrossInterval(interval types.Interval, datetime time.Time) (bool, error) {
	if strings.EqualFold(string(interval), "1w") {
		return datetime.Weekday() == time.Monday && isMidnight(datetime), nil
	}
	d, err := Duration(interval)
	if err != nil {
		return false, err
	}
	utc := datetime.UTC()
	return utc.Truncate(d).Equal(utc), nil
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
