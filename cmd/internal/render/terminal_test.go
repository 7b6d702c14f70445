package render

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatshell/cmd/internal/chat"
)

var base = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu     sync.Mutex
	msgs   map[int64][]chat.Message
	active int64
	self   int64
}

func newFakeSource(active, self int64) *fakeSource {
	return &fakeSource{msgs: make(map[int64][]chat.Message), active: active, self: self}
}

func (f *fakeSource) set(id int64, msgs ...chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[id] = msgs
}

func (f *fakeSource) Display(id int64) []chat.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return chat.Segment(f.msgs[id], chat.DefaultSeparatorGap)
}

func (f *fakeSource) Active() (int64, bool) { return f.active, f.active != 0 }

func (f *fakeSource) LocalUser() (int64, string) { return f.self, "me" }

func text(id int64, sender int64, name, content string, at time.Time) chat.Message {
	return chat.Message{ID: id, SenderID: sender, SenderName: name, Kind: chat.KindText, Content: content, CreatedAt: at}
}

func newTestTerminal(t *testing.T, src Source) (*Terminal, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	term, err := NewTerminal(&out, WithWidth(40), WithClock(func() time.Time { return base.Add(time.Hour) }))
	require.NoError(t, err)
	term.Attach(src)
	return term, &out
}

func TestNewTerminal_Validation(t *testing.T) {
	_, err := NewTerminal(nil)
	require.Error(t, err)

	_, err = NewTerminal(&bytes.Buffer{}, WithWidth(5))
	require.Error(t, err)

	_, err = NewTerminal(&bytes.Buffer{}, WithClock(nil))
	require.Error(t, err)
}

func TestTerminal_PrintsEachMessageOnce(t *testing.T) {
	src := newFakeSource(1, 9)
	term, out := newTestTerminal(t, src)

	a := text(1, 2, "alice", "hello", base)
	b := text(2, 9, "me", "hi alice", base.Add(time.Minute))
	src.set(1, a, b)

	term.Begin(1, "alice")
	term.Flush(1)

	first := out.String()
	assert.Contains(t, first, "── alice ──")
	assert.Contains(t, first, "alice 10:00:00")
	assert.Contains(t, first, "you 10:01:00")
	assert.Contains(t, first, "hello")

	out.Reset()
	c := text(3, 2, "alice", "how are you", base.Add(2*time.Minute))
	src.set(1, a, b, c)
	term.MessagesChanged(1)

	got := out.String()
	assert.Contains(t, got, "how are you")
	assert.NotContains(t, got, "hello")
	assert.NotContains(t, got, "hi alice")

	out.Reset()
	term.MessagesChanged(1)
	assert.Empty(t, out.String())
}

func TestTerminal_OlderPageUnderRule(t *testing.T) {
	src := newFakeSource(1, 9)
	term, out := newTestTerminal(t, src)

	newest := text(10, 2, "alice", "newest", base.Add(10*time.Minute))
	src.set(1, newest)
	term.Flush(1)
	out.Reset()

	older := text(5, 2, "alice", "older", base)
	src.set(1, older, newest)
	term.MessagesChanged(1)

	got := out.String()
	require.Contains(t, got, "── earlier messages ──")
	assert.Less(t, strings.Index(got, "earlier messages"), strings.Index(got, "older"))
	assert.NotContains(t, got, "newest")
}

func TestTerminal_SeparatorBeforeGap(t *testing.T) {
	src := newFakeSource(7, 9)
	term, out := newTestTerminal(t, src)

	src.set(7,
		text(1, 2, "bob", "a", base),
		text(2, 2, "bob", "b", base.Add(2*time.Minute)),
		text(3, 2, "bob", "c", base.Add(20*time.Minute)),
	)
	term.Flush(7)

	got := out.String()
	require.Equal(t, 1, strings.Count(got, "──── 10:"), got)
	assert.Contains(t, got, "──── 10:20 ────")
	assert.Less(t, strings.Index(got, "10:02:00"), strings.Index(got, "──── 10:20"))
}

func TestTerminal_PendingThenConfirmedNotReprinted(t *testing.T) {
	src := newFakeSource(1, 9)
	term, out := newTestTerminal(t, src)

	echo := chat.Message{ID: -1, ClientMsgID: "c1", SenderID: 9, Kind: chat.KindText, Content: "ping", CreatedAt: base, Pending: true}
	src.set(1, echo)
	term.MessagesChanged(1)
	assert.Contains(t, out.String(), "…")

	out.Reset()
	confirmed := echo
	confirmed.ID = 100
	confirmed.Pending = false
	src.set(1, confirmed)
	term.MessagesChanged(1)
	assert.Empty(t, out.String())
}

func TestTerminal_FailedSendReported(t *testing.T) {
	src := newFakeSource(1, 9)
	term, out := newTestTerminal(t, src)

	echo := chat.Message{ID: -1, ClientMsgID: "c1", SenderID: 9, Kind: chat.KindText, Content: "ping", CreatedAt: base, Pending: true}
	src.set(1, echo)
	term.MessagesChanged(1)
	out.Reset()

	echo.Pending = false
	echo.Failed = true
	src.set(1, echo)
	term.MessagesChanged(1)
	assert.Contains(t, out.String(), "✗ not delivered: ping")
}

func TestTerminal_InactiveConversationNotice(t *testing.T) {
	src := newFakeSource(1, 9)
	term, out := newTestTerminal(t, src)

	src.set(2, text(1, 3, "carol", "psst", base))
	term.MessagesChanged(2)
	assert.Contains(t, out.String(), "● conversation 2 · carol: psst")

	out.Reset()
	term.MessagesChanged(2)
	assert.Empty(t, out.String())
}

func TestTerminal_MeasureHeight(t *testing.T) {
	src := newFakeSource(1, 9)
	term, _ := newTestTerminal(t, src)

	short := text(1, 2, "alice", "hi", base)
	assert.Equal(t, 2, term.MeasureHeight([]chat.Message{short}))

	long := text(2, 2, "alice", strings.Repeat("word ", 20), base)
	h := term.MeasureHeight([]chat.Message{long})
	assert.Greater(t, h, 2)
	assert.Equal(t, 2+h, term.MeasureHeight([]chat.Message{short, long}))
	assert.Zero(t, term.MeasureHeight(nil))
}

func TestTerminal_BinaryBody(t *testing.T) {
	src := newFakeSource(1, 9)
	term, _ := newTestTerminal(t, src)

	m := chat.Message{
		ID: 1, SenderID: 2, SenderName: "alice", Kind: chat.KindFile,
		Content: "https://cdn/x.pdf", FileName: "x.pdf", FileSize: 1500, CreatedAt: base,
	}
	got := term.Render([]chat.Item{{Message: m}}, 9)
	assert.Contains(t, got, "[file] x.pdf (1.5 kB)")
	assert.Contains(t, got, "https://cdn/x.pdf")
}

func TestTerminal_ScrollState(t *testing.T) {
	term, _ := newTestTerminal(t, newFakeSource(1, 9))

	term.ScrollToBottom(1)
	_, bottom := term.Offset(1)
	assert.True(t, bottom)

	term.RestoreOffset(1, 30)
	term.PreserveOffset(1, 12)
	off, bottom := term.Offset(1)
	assert.Equal(t, 42, off)
	assert.False(t, bottom)
}

func TestTerminal_LoadFailed(t *testing.T) {
	term, out := newTestTerminal(t, newFakeSource(1, 9))
	term.LoadFailed(42, 2, errors.New("timeout"))
	assert.Contains(t, out.String(), "could not load page 2 of conversation 42: timeout")
}

func TestPreview(t *testing.T) {
	cases := []struct {
		in   chat.Message
		want string
	}{
		{in: chat.Message{Kind: chat.KindText, Content: "a\nb"}, want: "a b"},
		{in: chat.Message{Kind: chat.KindImage, Content: "https://x"}, want: "[image]"},
		{in: chat.Message{Kind: chat.KindText, Content: strings.Repeat("x", 70)}, want: strings.Repeat("x", 59) + "…"},
	}
	for _, tc := range cases {
		if got := preview(tc.in); got != tc.want {
			t.Fatalf("preview(%q)=%q want=%q", tc.in.Content, got, tc.want)
		}
	}
}
