package chat

import "time"

// DefaultSeparatorGap is the silence after which the display inserts a time separator.
const DefaultSeparatorGap = 5 * time.Minute

// Item is one entry of the display sequence: either a time separator or a message.
type Item struct {
	Separator bool
	// At is the separator's timestamp (the CreatedAt of the message that follows it).
	At      time.Time
	Message Message
}

// Segment derives the display sequence for msgs, which must be sorted by CreatedAt.
// A separator precedes every message whose CreatedAt is more than gap after the previous one.
// It never mutates msgs.
func Segment(msgs []Message, gap time.Duration) []Item {
	if len(msgs) == 0 {
		return nil
	}
	if gap <= 0 {
		gap = DefaultSeparatorGap
	}

	out := make([]Item, 0, len(msgs)+len(msgs)/4)
	for i, m := range msgs {
		if i > 0 && m.CreatedAt.Sub(msgs[i-1].CreatedAt) > gap {
			out = append(out, Item{Separator: true, At: m.CreatedAt})
		}
		out = append(out, Item{Message: m})
	}
	return out
}
