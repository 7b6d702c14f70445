package chat

import "time"

// FormatTime renders a message timestamp relative to now:
// today "15:04:05", yesterday "Yesterday 15:04:05", same year "01-02 15:04",
// otherwise "2006/01/02 15:04". withSeconds only affects the first two forms.
// t is rendered in now's location.
func FormatTime(t, now time.Time, withSeconds bool) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())

	clock := "15:04"
	if withSeconds {
		clock = "15:04:05"
	}

	switch {
	case sameDay(t, now):
		return t.Format(clock)
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday " + t.Format(clock)
	case t.Year() == now.Year():
		return t.Format("01-02 15:04")
	default:
		return t.Format("2006/01/02 15:04")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
