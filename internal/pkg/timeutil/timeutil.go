package timeutil

import "time"

const DateLayout = "2006-01-02"

// Clock returns the current time. Components take one so tests can pin time.
type Clock func() time.Time

func Today(now time.Time, loc *time.Location) string {
	if loc != nil {
		now = now.In(loc)
	}
	return now.Format(DateLayout)
}

func OrDefault(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
