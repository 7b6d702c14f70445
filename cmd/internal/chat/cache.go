package chat

import (
	"sort"
	"time"
)

// conversationCache is the per-conversation state owned by Store.
// It is only touched with Store.mu held.
//
// Invariants:
//   - msgs has no duplicate ID
//   - msgs is sorted ascending by CreatedAt, ties in insertion order
type conversationCache struct {
	id           int64
	msgs         []Message
	scrollOffset int
	page         int
	exhausted    bool
	loading      bool
	// loaded is set once a newest-window page has been applied.
	loaded bool
}

func newConversationCache(id int64) *conversationCache {
	return &conversationCache{
		id:   id,
		msgs: make([]Message, 0, 32),
		page: 1,
	}
}

func (c *conversationCache) snapshot() []Message {
	return append([]Message(nil), c.msgs...)
}

func (c *conversationCache) indexByID(id int64) int {
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *conversationCache) indexByClientMsgID(clientMsgID string) int {
	if clientMsgID == "" {
		return -1
	}
	for i := range c.msgs {
		if c.msgs[i].ClientMsgID == clientMsgID {
			return i
		}
	}
	return -1
}

// indexPendingEcho finds the oldest unconfirmed local echo that m plausibly confirms:
// same sender, same content, created within window.
func (c *conversationCache) indexPendingEcho(m Message, window time.Duration) int {
	for i := range c.msgs {
		e := c.msgs[i]
		if !e.Local() || e.SenderID != m.SenderID || e.Content != m.Content {
			continue
		}
		d := m.CreatedAt.Sub(e.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return i
		}
	}
	return -1
}

// insert places m after every message with CreatedAt <= m.CreatedAt.
// Live messages normally arrive in order, which makes this an append.
func (c *conversationCache) insert(m Message) {
	i := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].CreatedAt.After(m.CreatedAt) })
	if i == len(c.msgs) {
		c.msgs = append(c.msgs, m)
		return
	}
	c.msgs = append(c.msgs, Message{})
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = m
}

// confirm rewrites the echo at i with server data, dropping it instead when the
// server id is already present elsewhere.
func (c *conversationCache) confirm(i int, serverID int64, createdAt time.Time) {
	if j := c.indexByID(serverID); j >= 0 && j != i {
		c.removeAt(i)
		return
	}
	c.msgs[i].ID = serverID
	c.msgs[i].Pending = false
	c.msgs[i].Failed = false
	if !createdAt.IsZero() {
		c.msgs[i].CreatedAt = createdAt
	}
	c.resort()
}

// update overwrites the entry at i with m, keeping the local client id when m lacks one.
func (c *conversationCache) update(i int, m Message) {
	if m.ClientMsgID == "" {
		m.ClientMsgID = c.msgs[i].ClientMsgID
	}
	if j := c.indexByID(m.ID); j >= 0 && j != i {
		c.msgs[j] = m
		c.removeAt(i)
		c.resort()
		return
	}
	c.msgs[i] = m
	c.resort()
}

func (c *conversationCache) removeAt(i int) {
	c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
}

// replaceNewest installs a fresh newest-window batch. Unconfirmed local echoes
// survive unless the batch already carries them. Server messages missing from
// the batch survive when they are newer than its newest entry, since they
// arrived live after the server took its snapshot.
func (c *conversationCache) replaceNewest(batch []Message) {
	batch = dedupeByID(batch)

	seenClient := make(map[string]struct{}, len(batch))
	seenID := make(map[int64]struct{}, len(batch))
	var newest time.Time
	for _, m := range batch {
		seenID[m.ID] = struct{}{}
		if m.ClientMsgID != "" {
			seenClient[m.ClientMsgID] = struct{}{}
		}
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}

	out := make([]Message, 0, len(batch)+4)
	out = append(out, batch...)
	for _, m := range c.msgs {
		if m.ClientMsgID != "" {
			if _, ok := seenClient[m.ClientMsgID]; ok {
				continue
			}
		}
		if m.Local() {
			out = append(out, m)
			continue
		}
		if _, ok := seenID[m.ID]; ok {
			continue
		}
		if len(batch) == 0 || m.CreatedAt.After(newest) {
			out = append(out, m)
		}
	}
	c.msgs = out
	c.resort()
}

// mergeOlder merges an older page above the current list and returns the
// messages that were not present before.
func (c *conversationCache) mergeOlder(batch []Message) []Message {
	batch = dedupeByID(batch)

	added := make([]Message, 0, len(batch))
	for _, m := range batch {
		if i := c.indexByID(m.ID); i >= 0 {
			c.msgs[i] = m
			continue
		}
		added = append(added, m)
	}

	merged := make([]Message, 0, len(added)+len(c.msgs))
	merged = append(merged, added...)
	merged = append(merged, c.msgs...)
	c.msgs = merged
	c.resort()

	return added
}

func (c *conversationCache) resort() {
	sort.SliceStable(c.msgs, func(i, j int) bool { return c.msgs[i].CreatedAt.Before(c.msgs[j].CreatedAt) })
}

func dedupeByID(in []Message) []Message {
	if len(in) < 2 {
		return in
	}
	seen := make(map[int64]int, len(in))
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if i, ok := seen[m.ID]; ok {
			out[i] = m
			continue
		}
		seen[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}
