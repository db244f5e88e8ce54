package bot

import (
	"strings"
	"time"
)

const whenLayout = "2006-01-02 15:04"

// ParseWhen accepts "YYYY-MM-DD HH:MM" in 24-hour time, interpreted in loc.
// A single-digit hour is accepted ("1:27" == "01:27") and trailing junk after
// the time field is ignored.
func ParseWhen(s string, loc *time.Location) (time.Time, bool) {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) < 2 {
		return time.Time{}, false
	}
	date, clock := parts[0], parts[1]
	if i := strings.IndexByte(clock, ':'); i == 1 {
		clock = "0" + clock
	}
	t, err := time.ParseInLocation(whenLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
