package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatshell/cmd/internal/ids"
)

const (
	DefaultPageSize           = 10
	DefaultDebounce           = 200 * time.Millisecond
	DefaultLoadOlderThreshold = 50
	DefaultEchoWindow         = 2 * time.Minute
	DefaultFetchTimeout       = 10 * time.Second
)

// LoadOutcome reports what a load request did.
type LoadOutcome int

const (
	LoadApplied LoadOutcome = iota
	LoadSkippedInFlight
	LoadSkippedExhausted
	LoadSkippedNotNeeded
	LoadFailed
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadApplied:
		return "applied"
	case LoadSkippedInFlight:
		return "skipped_in_flight"
	case LoadSkippedExhausted:
		return "skipped_exhausted"
	case LoadSkippedNotNeeded:
		return "skipped_not_needed"
	case LoadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MergeOutcome reports how a live message was folded into a cache.
type MergeOutcome int

const (
	MergeAppended MergeOutcome = iota
	MergeCreated
	MergeUpdated
	MergeConfirmedEcho
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeAppended:
		return "appended"
	case MergeCreated:
		return "created"
	case MergeUpdated:
		return "updated"
	case MergeConfirmedEcho:
		return "confirmed_echo"
	default:
		return "unknown"
	}
}

// CacheState is a read-only view of a conversation's pagination bookkeeping.
type CacheState struct {
	Page         int
	Exhausted    bool
	Loading      bool
	Loaded       bool
	ScrollOffset int
	Len          int
}

// Store owns every conversation cache and is the only place they are mutated.
//
// Store is safe for concurrent use. Network calls and presenter signals happen
// outside the lock; the per-conversation loading flag keeps at most one history
// fetch in flight.
type Store struct {
	fetcher   Fetcher
	sender    Sender
	presenter Presenter
	log       *slog.Logger
	metrics   Metrics
	tracer    trace.Tracer
	now       func() time.Time

	pageSize     int
	threshold    int
	debounce     time.Duration
	echoWindow   time.Duration
	fetchTimeout time.Duration
	separatorGap time.Duration

	mu          sync.Mutex
	debouncers  map[int64]*Debouncer
	closed      bool
	localUserID int64
	localName   string
	convs       map[int64]*conversationCache
	active      int64
	hasActive   bool
	nextLocalID int64
}

// Option configures a Store.
type Option func(*Store) error

// WithPageSize sets the number of messages requested per history page.
func WithPageSize(n int) Option {
	return func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("page size must be > 0")
		}
		s.pageSize = n
		return nil
	}
}

// WithSender sets where SendOptimistic delivers messages.
func WithSender(sender Sender) Option {
	return func(s *Store) error {
		s.sender = sender
		return nil
	}
}

// WithPresenter sets the view that receives scroll and change signals.
func WithPresenter(p Presenter) Option {
	return func(s *Store) error {
		if p == nil {
			return fmt.Errorf("presenter is nil")
		}
		s.presenter = p
		return nil
	}
}

// WithLogger sets the logger. A nil logger keeps the discard default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithMetrics sets the metrics sink. A nil sink keeps the no-op default.
func WithMetrics(m Metrics) Option {
	return func(s *Store) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}

// WithLocalUser identifies the signed-in user; optimistic echoes carry this sender.
func WithLocalUser(id int64, name string) Option {
	return func(s *Store) error {
		s.localUserID = id
		s.localName = name
		return nil
	}
}

// WithDebounce sets the quiet period OnScroll waits before checking for older history.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) error {
		if d < 0 {
			return fmt.Errorf("debounce must be >= 0")
		}
		s.debounce = d
		return nil
	}
}

// WithLoadOlderThreshold sets the offset from the top below which OnScroll loads older history.
func WithLoadOlderThreshold(px int) Option {
	return func(s *Store) error {
		if px < 0 {
			return fmt.Errorf("load-older threshold must be >= 0")
		}
		s.threshold = px
		return nil
	}
}

// WithEchoWindow bounds the time skew for matching a live message to an echo without a client id.
func WithEchoWindow(d time.Duration) Option {
	return func(s *Store) error {
		if d < 0 {
			return fmt.Errorf("echo window must be >= 0")
		}
		s.echoWindow = d
		return nil
	}
}

// WithFetchTimeout caps each history fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) error {
		if d <= 0 {
			return fmt.Errorf("fetch timeout must be > 0")
		}
		s.fetchTimeout = d
		return nil
	}
}

// WithSeparatorGap sets the silence after which Display inserts a time separator.
func WithSeparatorGap(d time.Duration) Option {
	return func(s *Store) error {
		if d <= 0 {
			return fmt.Errorf("separator gap must be > 0")
		}
		s.separatorGap = d
		return nil
	}
}

// WithClock replaces the time source used for echo timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now == nil {
			return fmt.Errorf("clock is nil")
		}
		s.now = now
		return nil
	}
}

// NewStore constructs a Store that pages history through fetcher.
func NewStore(fetcher Fetcher, opts ...Option) (*Store, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is nil")
	}

	s := &Store{
		fetcher:      fetcher,
		presenter:    NopPresenter{},
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:      nopMetrics{},
		tracer:       otel.Tracer("chatshell/chat"),
		now:          func() time.Time { return time.Now().UTC() },
		pageSize:     DefaultPageSize,
		threshold:    DefaultLoadOlderThreshold,
		debounce:     DefaultDebounce,
		echoWindow:   DefaultEchoWindow,
		fetchTimeout: DefaultFetchTimeout,
		separatorGap: DefaultSeparatorGap,
		convs:        make(map[int64]*conversationCache),
		debouncers:   make(map[int64]*Debouncer),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("chat store option: %w", err)
		}
	}

	return s, nil
}

// Close stops pending debounced work. The store stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	pending := make([]*Debouncer, 0, len(s.debouncers))
	for _, d := range s.debouncers {
		pending = append(pending, d)
	}
	s.mu.Unlock()

	for _, d := range pending {
		d.Stop()
	}
}

// cacheLocked returns the cache for id, creating it when missing. Caller holds s.mu.
func (s *Store) cacheLocked(id int64) (*conversationCache, bool) {
	if c, ok := s.convs[id]; ok {
		return c, false
	}
	c := newConversationCache(id)
	s.convs[id] = c
	return c, true
}

func (s *Store) activeLocked(id int64) bool {
	return s.hasActive && s.active == id
}

// SelectConversation makes id the active conversation and returns its messages.
// The first selection loads the newest page; later selections answer from the
// cache and ask the view to restore the recorded scroll offset.
func (s *Store) SelectConversation(ctx context.Context, id int64) ([]Message, error) {
	s.mu.Lock()
	c, created := s.cacheLocked(id)
	s.active = id
	s.hasActive = true
	needsLoad := created || (!c.loaded && !c.loading)
	offset := c.scrollOffset
	s.mu.Unlock()

	s.log.Debug("chat.select", "conversation_id", id, "cached", !created)

	if !created {
		s.presenter.RestoreOffset(id, offset)
	}
	if needsLoad {
		if _, err := s.LoadPage(ctx, id, 1); err != nil {
			return s.Messages(id), err
		}
	}
	return s.Messages(id), nil
}

// LoadPage fetches one page of history and merges it into the cache.
//
// Calls made while a fetch for id is in flight, or for page > 1 after history is
// exhausted, are dropped and reported through the outcome. On failure the cache
// is unchanged, the presenter is told once and a *LoadError is returned.
func (s *Store) LoadPage(ctx context.Context, id int64, page int) (LoadOutcome, error) {
	if page < 1 {
		return LoadFailed, fmt.Errorf("load page %d: %w", page, ErrInvalidPage)
	}

	s.mu.Lock()
	c, _ := s.cacheLocked(id)
	if c.loading {
		s.mu.Unlock()
		s.metrics.PageFetched(LoadSkippedInFlight.String(), 0)
		return LoadSkippedInFlight, nil
	}
	if page > 1 && c.exhausted {
		s.mu.Unlock()
		s.metrics.PageFetched(LoadSkippedExhausted.String(), 0)
		return LoadSkippedExhausted, nil
	}
	c.loading = true
	size := s.pageSize
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "chat.LoadPage", trace.WithAttributes(
		attribute.Int64("chat.conversation_id", id),
		attribute.Int("chat.page", page),
		attribute.Int("chat.page_size", size),
	))
	defer span.End()

	start := time.Now()
	batch, err := s.fetcher.FetchPage(ctx, id, page, size)
	elapsed := time.Since(start)

	if err != nil {
		s.mu.Lock()
		c.loading = false
		s.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		s.metrics.PageFetched(LoadFailed.String(), elapsed)
		s.log.Warn("chat.page.fail", "conversation_id", id, "page", page, "err", err)

		lerr := &LoadError{ConversationID: id, Page: page, Err: err}
		s.presenter.LoadFailed(id, page, lerr)
		return LoadFailed, lerr
	}

	var added []Message

	s.mu.Lock()
	c.loading = false
	if page == 1 {
		c.replaceNewest(batch)
		c.loaded = true
	} else {
		added = c.mergeOlder(batch)
	}
	c.exhausted = len(batch) < size
	c.page = page
	exhausted := c.exhausted
	active := s.activeLocked(id)
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("chat.batch_len", len(batch)), attribute.Bool("chat.exhausted", exhausted))
	s.metrics.PageFetched(LoadApplied.String(), elapsed)
	s.log.Debug("chat.page.loaded",
		"conversation_id", id,
		"page", page,
		"count", len(batch),
		"exhausted", exhausted,
		"duration_ms", elapsed.Milliseconds(),
	)

	s.presenter.MessagesChanged(id)

	if page == 1 {
		if active {
			s.presenter.ScrollToBottom(id)
		}
		return LoadApplied, nil
	}

	if delta := s.presenter.MeasureHeight(added); delta > 0 {
		s.mu.Lock()
		c.scrollOffset += delta
		s.mu.Unlock()
		if active {
			s.presenter.PreserveOffset(id, delta)
		}
	}
	return LoadApplied, nil
}

// MergeLiveMessage folds a pushed message into the conversation's cache.
func (s *Store) MergeLiveMessage(id int64, m Message) MergeOutcome {
	m.Pending = false
	m.Failed = false

	s.mu.Lock()
	c, created := s.cacheLocked(id)
	var outcome MergeOutcome
	switch {
	case created:
		c.insert(m)
		outcome = MergeCreated
	default:
		outcome = s.mergeLocked(c, m)
	}
	active := s.activeLocked(id)
	s.mu.Unlock()

	s.metrics.LiveMerged(outcome.String())
	if outcome == MergeConfirmedEcho {
		s.metrics.EchoResolved("confirmed_live")
	}
	s.log.Debug("chat.live.merged", "conversation_id", id, "message_id", m.ID, "outcome", outcome.String())

	s.presenter.MessagesChanged(id)
	if active && (outcome == MergeAppended || outcome == MergeCreated) {
		s.presenter.ScrollToBottom(id)
	}
	return outcome
}

func (s *Store) mergeLocked(c *conversationCache, m Message) MergeOutcome {
	if i := c.indexByID(m.ID); i >= 0 {
		c.update(i, m)
		return MergeUpdated
	}
	if i := c.indexByClientMsgID(m.ClientMsgID); i >= 0 {
		wasLocal := c.msgs[i].Local()
		c.update(i, m)
		if wasLocal {
			return MergeConfirmedEcho
		}
		return MergeUpdated
	}
	if m.ClientMsgID == "" && s.localUserID != 0 && m.SenderID == s.localUserID {
		if i := c.indexPendingEcho(m, s.echoWindow); i >= 0 {
			c.update(i, m)
			return MergeConfirmedEcho
		}
	}
	c.insert(m)
	return MergeAppended
}

// RecordScrollPosition stores the view's offset for id.
func (s *Store) RecordScrollPosition(id int64, offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, _ := s.cacheLocked(id)
	c.scrollOffset = offset
}

// OnScroll is the view's scroll callback: it records offset and schedules a
// debounced load-older check against the configured threshold. Each
// conversation has its own debounce timer.
func (s *Store) OnScroll(id int64, offset int) {
	s.mu.Lock()
	c, _ := s.cacheLocked(id)
	c.scrollOffset = offset
	if s.closed {
		s.mu.Unlock()
		return
	}
	d, ok := s.debouncers[id]
	if !ok {
		d = NewDebouncer(s.debounce)
		s.debouncers[id] = d
	}
	s.mu.Unlock()

	d.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		defer cancel()

		outcome, err := s.TriggerLoadOlderIfNeeded(ctx, id, offset, s.threshold)
		if err != nil {
			s.log.Debug("chat.scroll.load_older", "conversation_id", id, "outcome", outcome.String(), "err", err)
		}
	})
}

// TriggerLoadOlderIfNeeded loads the next older page when the view is within
// threshold of the top and more history may exist.
func (s *Store) TriggerLoadOlderIfNeeded(ctx context.Context, id int64, currentOffset, threshold int) (LoadOutcome, error) {
	if currentOffset >= threshold {
		return LoadSkippedNotNeeded, nil
	}

	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return LoadSkippedNotNeeded, fmt.Errorf("conversation %d: %w", id, ErrUnknownConversation)
	}
	if c.loading {
		s.mu.Unlock()
		return LoadSkippedInFlight, nil
	}
	if c.exhausted {
		s.mu.Unlock()
		return LoadSkippedExhausted, nil
	}
	next := c.page + 1
	if !c.loaded {
		next = 1
	}
	s.mu.Unlock()

	return s.LoadPage(ctx, id, next)
}

// SendOptimistic appends a pending echo of content and hands it to the Sender.
// The returned Message is the echo as first inserted.
func (s *Store) SendOptimistic(ctx context.Context, id int64, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyContent
	}

	now := s.now()
	clientMsgID, err := ids.NewULID(now)
	if err != nil {
		return Message{}, fmt.Errorf("client msg id: %w", err)
	}

	s.mu.Lock()
	c, _ := s.cacheLocked(id)
	s.nextLocalID--
	echo := Message{
		ID:          s.nextLocalID,
		ClientMsgID: clientMsgID,
		SenderID:    s.localUserID,
		SenderName:  s.localName,
		Kind:        KindText,
		Content:     content,
		CreatedAt:   now,
		Pending:     true,
	}
	c.insert(echo)
	active := s.activeLocked(id)
	s.mu.Unlock()

	s.presenter.MessagesChanged(id)
	if active {
		s.presenter.ScrollToBottom(id)
	}

	if s.sender == nil {
		s.markFailed(id, clientMsgID)
		return echo, ErrNoSender
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ack, err := s.sender.Send(ctx, id, clientMsgID, KindText, content)
	if err != nil {
		s.markFailed(id, clientMsgID)
		s.log.Warn("chat.send.fail", "conversation_id", id, "client_msg_id", clientMsgID, "err", err)
		return echo, fmt.Errorf("send: %w", err)
	}

	s.ConfirmSent(id, clientMsgID, ack)
	return echo, nil
}

// ConfirmSent applies a server acknowledgement to the echo carrying clientMsgID.
// It reports whether an unconfirmed echo was found.
func (s *Store) ConfirmSent(id int64, clientMsgID string, ack Ack) bool {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	i := c.indexByClientMsgID(clientMsgID)
	if i < 0 || !c.msgs[i].Local() {
		s.mu.Unlock()
		s.metrics.EchoResolved("already_confirmed")
		return false
	}
	c.confirm(i, ack.ID, ack.CreatedAt)
	s.mu.Unlock()

	s.metrics.EchoResolved("confirmed_ack")
	s.log.Debug("chat.send.ack", "conversation_id", id, "client_msg_id", clientMsgID, "message_id", ack.ID)
	s.presenter.MessagesChanged(id)
	return true
}

func (s *Store) markFailed(id int64, clientMsgID string) {
	s.mu.Lock()
	c, ok := s.convs[id]
	if ok {
		if i := c.indexByClientMsgID(clientMsgID); i >= 0 && c.msgs[i].Local() {
			c.msgs[i].Pending = false
			c.msgs[i].Failed = true
		} else {
			ok = false
		}
	}
	s.mu.Unlock()

	if ok {
		s.metrics.EchoResolved("failed")
		s.presenter.MessagesChanged(id)
	}
}

// Messages returns a copy of the conversation's messages, or nil when unknown.
func (s *Store) Messages(id int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil
	}
	return c.snapshot()
}

// Display returns the segmented view of the conversation.
func (s *Store) Display(id int64) []Item {
	return Segment(s.Messages(id), s.separatorGap)
}

// State reports id's pagination bookkeeping, or false when no cache exists yet.
func (s *Store) State(id int64) (CacheState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return CacheState{}, false
	}
	return CacheState{
		Page:         c.page,
		Exhausted:    c.exhausted,
		Loading:      c.loading,
		Loaded:       c.loaded,
		ScrollOffset: c.scrollOffset,
		Len:          len(c.msgs),
	}, true
}

// Active returns the active conversation id, if any.
func (s *Store) Active() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.hasActive
}

// Conversations lists cached conversation ids in ascending order.
func (s *Store) Conversations() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.convs))
	for id := range s.convs {
		out = append(out, id)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetLocalUser changes the signed-in user after construction (login, logout).
func (s *Store) SetLocalUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localUserID = id
	s.localName = name
}

// LocalUser returns the signed-in user id and display name.
func (s *Store) LocalUser() (int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localUserID, s.localName
}
