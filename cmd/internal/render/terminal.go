// Package render draws conversations on a line-oriented terminal.
package render

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"chatshell/cmd/internal/chat"
)

const (
	defaultWidth = 80
	minWidth     = 20
)

// Source is the read side of the message store. chat.Store implements it.
type Source interface {
	Display(id int64) []chat.Item
	Active() (int64, bool)
	LocalUser() (int64, string)
}

var _ chat.Presenter = (*Terminal)(nil)

// Terminal implements chat.Presenter by appending to w.
//
// Output is append-only: each message is printed once, history pages loaded
// later are printed under an "earlier messages" rule, and failed sends are
// reported on their own line. Scroll signals are kept as state only.
type Terminal struct {
	w     io.Writer
	st    styles
	now   func() time.Time
	width int

	mu      sync.Mutex
	src     Source
	seen    map[int64]map[string]state
	offsets map[int64]int
	pinned  map[int64]bool
}

type state struct {
	pending bool
	failed  bool
	at      time.Time
}

// Option configures a Terminal.
type Option func(*Terminal) error

// WithWidth sets the wrap width for message bodies.
func WithWidth(n int) Option {
	return func(t *Terminal) error {
		if n < minWidth {
			return fmt.Errorf("width must be >= %d", minWidth)
		}
		t.width = n
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Terminal) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		t.now = now
		return nil
	}
}

// NewTerminal returns a Terminal writing to w. Attach a Source before use.
func NewTerminal(w io.Writer, opts ...Option) (*Terminal, error) {
	if w == nil {
		return nil, errors.New("render: writer is nil")
	}
	t := &Terminal{
		w:       w,
		st:      newStyles(lipgloss.NewRenderer(w)),
		now:     time.Now,
		width:   defaultWidth,
		seen:    make(map[int64]map[string]state),
		offsets: make(map[int64]int),
		pinned:  make(map[int64]bool),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("render option: %w", err)
		}
	}
	return t, nil
}

// Attach sets the store the terminal reads from.
func (t *Terminal) Attach(src Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.src = src
}

// Begin starts a fresh view of a conversation: it prints a header and forgets
// which of its messages were already printed.
func (t *Terminal) Begin(id int64, title string) {
	if strings.TrimSpace(title) == "" {
		title = "conversation " + strconv.FormatInt(id, 10)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, id)
	t.printLocked(t.st.header.Render("── " + title + " ──"))
}

// Flush prints whatever of the conversation has not been printed yet.
func (t *Terminal) Flush(id int64) {
	src := t.source()
	if src == nil {
		return
	}
	items := src.Display(id)
	self, _ := src.LocalUser()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked(id, items, self)
}

// Render formats items as a transcript without tracking them.
func (t *Terminal) Render(items []chat.Item, self int64) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, t.renderItem(it, self))
	}
	return strings.Join(lines, "\n")
}

// Offset reports the last scroll state recorded for a conversation.
func (t *Terminal) Offset(id int64) (offset int, atBottom bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsets[id], t.pinned[id]
}

func (t *Terminal) ScrollToBottom(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinned[id] = true
}

func (t *Terminal) PreserveOffset(id int64, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets[id] += delta
	t.pinned[id] = false
}

func (t *Terminal) RestoreOffset(id int64, offset int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets[id] = offset
	t.pinned[id] = false
}

// MeasureHeight returns the number of terminal lines msgs occupy when rendered.
func (t *Terminal) MeasureHeight(msgs []chat.Message) int {
	self := int64(0)
	if src := t.source(); src != nil {
		self, _ = src.LocalUser()
	}
	h := 0
	for _, m := range msgs {
		h += lipgloss.Height(t.renderMessage(m, self))
	}
	return h
}

func (t *Terminal) LoadFailed(id int64, page int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printLocked(t.st.failed.Render(fmt.Sprintf("! could not load page %d of conversation %d: %v", page, id, err)))
}

// MessagesChanged prints new messages of the active conversation and a one-line
// notice for messages arriving elsewhere.
func (t *Terminal) MessagesChanged(id int64) {
	src := t.source()
	if src == nil {
		return
	}
	items := src.Display(id)
	active, ok := src.Active()
	self, _ := src.LocalUser()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ok && active == id {
		t.flushLocked(id, items, self)
		return
	}

	seen := t.seenLocked(id)
	for _, it := range items {
		if it.Separator || isSeen(seen, it.Message) {
			continue
		}
		markSeen(seen, it.Message)
		m := it.Message
		t.printLocked(t.st.notice.Render(fmt.Sprintf("● conversation %d · %s: %s", id, senderName(m, self), preview(m))))
	}
}

func (t *Terminal) source() Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.src
}

func (t *Terminal) seenLocked(id int64) map[string]state {
	seen, ok := t.seen[id]
	if !ok {
		seen = make(map[string]state)
		t.seen[id] = seen
	}
	return seen
}

func (t *Terminal) flushLocked(id int64, items []chat.Item, self int64) {
	seen := t.seenLocked(id)

	var earliest time.Time
	for _, st := range seen {
		if earliest.IsZero() || st.at.Before(earliest) {
			earliest = st.at
		}
	}

	var older, newer []string
	var sep *chat.Item
	for i := range items {
		it := items[i]
		if it.Separator {
			sep = &items[i]
			continue
		}
		m := it.Message
		prev, wasSeen := lookup(seen, m)
		markSeen(seen, m)

		if wasSeen {
			if m.Failed && !prev.failed {
				newer = append(newer, t.st.failed.Render("✗ not delivered: "+preview(m)))
			}
			sep = nil
			continue
		}

		block := make([]string, 0, 2)
		if sep != nil {
			block = append(block, t.renderItem(*sep, self))
		}
		block = append(block, t.renderMessage(m, self))
		sep = nil

		if !earliest.IsZero() && m.CreatedAt.Before(earliest) {
			older = append(older, block...)
		} else {
			newer = append(newer, block...)
		}
	}

	if len(older) > 0 {
		t.printLocked(t.st.separator.Render("── earlier messages ──"))
		for _, l := range older {
			t.printLocked(l)
		}
		if len(newer) > 0 {
			t.printLocked(t.st.separator.Render("── latest ──"))
		}
	}
	for _, l := range newer {
		t.printLocked(l)
	}
}

func (t *Terminal) printLocked(s string) {
	_, _ = io.WriteString(t.w, s+"\n")
}

func (t *Terminal) renderItem(it chat.Item, self int64) string {
	if it.Separator {
		return t.st.separator.Render("──── " + chat.FormatTime(it.At, t.now(), false) + " ────")
	}
	return t.renderMessage(it.Message, self)
}

func (t *Terminal) renderMessage(m chat.Message, self int64) string {
	name := t.st.other.Render(senderName(m, self))
	if self != 0 && m.SenderID == self {
		name = t.st.self.Render(senderName(m, self))
	}

	head := name + " " + t.st.timestamp.Render(chat.FormatTime(m.CreatedAt, t.now(), true))
	switch {
	case m.Failed:
		head += " " + t.st.failed.Render("✗")
	case m.Pending:
		head += " " + t.st.pending.Render("…")
	}

	return head + "\n" + t.st.body.Width(t.width).Render(t.body(m))
}

func (t *Terminal) body(m chat.Message) string {
	if !m.Kind.Binary() {
		return m.Content
	}
	label := "[" + string(m.Kind) + "]"
	if m.FileName != "" {
		label += " " + m.FileName
	}
	if m.FileSize > 0 {
		label += " (" + humanize.Bytes(uint64(m.FileSize)) + ")"
	}
	return label + " " + t.st.attach.Render(m.Content)
}

func senderName(m chat.Message, self int64) string {
	if self != 0 && m.SenderID == self {
		return "you"
	}
	if strings.TrimSpace(m.SenderName) != "" {
		return m.SenderName
	}
	return "user " + strconv.FormatInt(m.SenderID, 10)
}

func preview(m chat.Message) string {
	if m.Kind.Binary() {
		return "[" + string(m.Kind) + "]"
	}
	const maxRunes = 60
	r := []rune(strings.ReplaceAll(m.Content, "\n", " "))
	if len(r) > maxRunes {
		return string(r[:maxRunes-1]) + "…"
	}
	return string(r)
}

func keys(m chat.Message) (client, server string) {
	if m.ClientMsgID != "" {
		client = "c:" + m.ClientMsgID
	}
	if m.ID > 0 {
		server = "s:" + strconv.FormatInt(m.ID, 10)
	}
	return client, server
}

func lookup(seen map[string]state, m chat.Message) (state, bool) {
	client, server := keys(m)
	if client != "" {
		if st, ok := seen[client]; ok {
			return st, true
		}
	}
	if server != "" {
		if st, ok := seen[server]; ok {
			return st, true
		}
	}
	if client == "" && server == "" {
		st, ok := seen["l:"+strconv.FormatInt(m.ID, 10)]
		return st, ok
	}
	return state{}, false
}

func isSeen(seen map[string]state, m chat.Message) bool {
	_, ok := lookup(seen, m)
	return ok
}

func markSeen(seen map[string]state, m chat.Message) {
	st := state{pending: m.Pending, failed: m.Failed, at: m.CreatedAt}
	client, server := keys(m)
	if client != "" {
		seen[client] = st
	}
	if server != "" {
		seen[server] = st
	}
	if client == "" && server == "" {
		seen["l:"+strconv.FormatInt(m.ID, 10)] = st
	}
}
