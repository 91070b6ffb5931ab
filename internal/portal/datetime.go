package portal

import "time"

// observedLayout is the portal's "Date/Time Observed" format: zero-padded
// month, day, 12-hour clock and minutes with an AM/PM suffix.
const observedLayout = "01/02/2006 03:04 PM"

// FormatDateTime renders t in the portal's expected form, in loc.
// A nil loc formats t in its own location.
//
//	00:15 -> "12:15 AM", 12:00 -> "12:00 PM", 13:05 -> "01:05 PM"
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(observedLayout)
}
