package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hostelhub/internal/cache"
	"hostelhub/internal/models"
	"hostelhub/internal/observability/metrics"
)

type eventRecorder struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	unread   map[string]int
	toasts   []string
	cleared  int
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		messages: make(map[string][]models.Message),
		unread:   make(map[string]int),
	}
}

func (e *eventRecorder) MessagesChanged(channelID string, messages []models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages[channelID] = messages
}

func (e *eventRecorder) UnreadChanged(channelID string, count int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unread[channelID] = count
}

func (e *eventRecorder) ToastShown(label string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toasts = append(e.toasts, label)
}

func (e *eventRecorder) ToastCleared() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleared++
}

func (e *eventRecorder) lastMessages(channelID string) []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messages[channelID]
}

func (e *eventRecorder) unreadCount(channelID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread[channelID]
}

func (e *eventRecorder) toastLabels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.toasts...)
}

func (e *eventRecorder) clearedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleared
}

type stubHistory struct {
	mu      sync.Mutex
	logs    map[string][]models.Message
	listErr error
	// release, when set, blocks List until the channel is closed.
	release chan struct{}
	creates []string
	created chan struct{}
}

func newStubHistory() *stubHistory {
	return &stubHistory{
		logs:    make(map[string][]models.Message),
		created: make(chan struct{}, 16),
	}
}

func (s *stubHistory) List(_ context.Context, channelID string) ([]models.Message, error) {
	s.mu.Lock()
	release := s.release
	err := s.listErr
	log := append([]models.Message(nil), s.logs[channelID]...)
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (s *stubHistory) Create(_ context.Context, channelID, body string) error {
	s.mu.Lock()
	s.creates = append(s.creates, channelID+":"+body)
	s.mu.Unlock()
	s.created <- struct{}{}
	return nil
}

func (s *stubHistory) createdCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.creates...)
}

func testRegistry() *Registry {
	return NewRegistry([]models.Channel{
		{ID: "ops-admin", Label: "Admin"},
		{ID: "warden-admin", Label: "Warden"},
	})
}

type controllerFixture struct {
	controller *Controller
	events     *eventRecorder
	history    *stubHistory
	store      *MessageStore
	metrics    *metrics.Recorder
}

func newControllerFixture(t *testing.T, mutate func(*ControllerConfig)) *controllerFixture {
	t.Helper()
	events := newEventRecorder()
	history := newStubHistory()
	recorder := metrics.New()
	store := NewMessageStore(MessageStoreConfig{Cache: cache.NewMemoryStore(), Metrics: recorder})
	cfg := ControllerConfig{
		Registry: testRegistry(),
		Store:    store,
		History:  history,
		Events:   events,
		UserID:   "resident-1",
		Metrics:  recorder,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(controller.Dispose)
	return &controllerFixture{
		controller: controller,
		events:     events,
		history:    history,
		store:      store,
		metrics:    recorder,
	}
}

func inbound(channel, sender, body string) models.Message {
	return models.Message{
		ID:        models.ParseMessageID("srv-" + body),
		ChannelID: channel,
		SenderID:  sender,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

func TestNewControllerValidatesConfig(t *testing.T) {
	store := NewMessageStore(MessageStoreConfig{Metrics: metrics.New()})
	cases := []struct {
		name string
		cfg  ControllerConfig
	}{
		{"missing registry", ControllerConfig{Store: store, UserID: "u"}},
		{"missing store", ControllerConfig{Registry: testRegistry(), UserID: "u"}},
		{"missing user", ControllerConfig{Registry: testRegistry(), Store: store}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewController(tc.cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestControllerUnreadAccumulatesWhileClosed(t *testing.T) {
	fx := newControllerFixture(t, nil)

	fx.controller.Receive(inbound("ops-admin", "admin-1", "one"))
	fx.controller.Receive(inbound("ops-admin", "admin-1", "two"))
	fx.controller.Receive(inbound("warden-admin", "warden-1", "three"))

	if got := fx.controller.Unread("ops-admin"); got != 2 {
		t.Fatalf("expected 2 unread on ops-admin, got %d", got)
	}
	if got := fx.controller.Unread("warden-admin"); got != 1 {
		t.Fatalf("expected 1 unread on warden-admin, got %d", got)
	}
	if got := fx.controller.TotalUnread(); got != 3 {
		t.Fatalf("expected 3 unread total, got %d", got)
	}
	toasts := fx.events.toastLabels()
	if len(toasts) != 3 || toasts[0] != "Admin" || toasts[2] != "Warden" {
		t.Fatalf("unexpected toast labels: %v", toasts)
	}
}

func TestControllerSelfEchoNeverCountsAsUnread(t *testing.T) {
	fx := newControllerFixture(t, nil)

	fx.controller.Receive(inbound("ops-admin", "resident-1", "my own send, other tab"))

	if got := fx.controller.TotalUnread(); got != 0 {
		t.Fatalf("expected no unread for self echo, got %d", got)
	}
	if toasts := fx.events.toastLabels(); len(toasts) != 0 {
		t.Fatalf("expected no toast for self echo, got %v", toasts)
	}
	// The echo still lands in the log.
	if got := fx.store.Cached("ops-admin"); len(got) != 1 {
		t.Fatalf("expected echo in log, got %+v", got)
	}
}

func TestControllerOpenClearsOnlyEnteredChannel(t *testing.T) {
	fx := newControllerFixture(t, nil)

	fx.controller.Receive(inbound("ops-admin", "admin-1", "one"))
	fx.controller.Receive(inbound("warden-admin", "warden-1", "two"))

	fx.controller.Open("ops-admin")

	if got := fx.controller.Unread("ops-admin"); got != 0 {
		t.Fatalf("expected opened channel cleared, got %d", got)
	}
	if got := fx.controller.Unread("warden-admin"); got != 1 {
		t.Fatalf("expected other channel untouched, got %d", got)
	}
	if got := fx.events.unreadCount("ops-admin"); got != 0 {
		t.Fatalf("expected UnreadChanged(0) emitted, got %d", got)
	}
	if active, open := fx.controller.ActiveChannel(); !open || active != "ops-admin" {
		t.Fatalf("expected open on ops-admin, got %q open=%v", active, open)
	}
}

func TestControllerOpenFallsBackToLastActiveThenFirst(t *testing.T) {
	fx := newControllerFixture(t, nil)

	fx.controller.Open("")
	if active, _ := fx.controller.ActiveChannel(); active != "ops-admin" {
		t.Fatalf("expected first registered channel, got %q", active)
	}

	fx.controller.SwitchChannel("warden-admin")
	fx.controller.Close()
	if fx.controller.IsOpen() {
		t.Fatal("expected widget closed")
	}

	fx.controller.Open("")
	if active, _ := fx.controller.ActiveChannel(); active != "warden-admin" {
		t.Fatalf("expected last active channel, got %q", active)
	}

	fx.controller.Open("not-a-channel")
	if active, _ := fx.controller.ActiveChannel(); active != "warden-admin" {
		t.Fatalf("expected unknown target to fall back to last active, got %q", active)
	}
}

func TestControllerVisibleChannelReceivesWithoutUnread(t *testing.T) {
	fx := newControllerFixture(t, nil)
	fx.controller.Open("ops-admin")

	fx.controller.Receive(inbound("ops-admin", "admin-1", "live"))

	if got := fx.controller.Unread("ops-admin"); got != 0 {
		t.Fatalf("expected no unread on visible channel, got %d", got)
	}
	if toasts := fx.events.toastLabels(); len(toasts) != 0 {
		t.Fatalf("expected no toast on visible channel, got %v", toasts)
	}
	msgs := fx.events.lastMessages("ops-admin")
	if len(msgs) != 1 || msgs[0].Body != "live" {
		t.Fatalf("expected live message surfaced, got %+v", msgs)
	}
}

func TestControllerOptimisticSend(t *testing.T) {
	fx := newControllerFixture(t, nil)
	fx.controller.Open("ops-admin")

	fx.controller.Send(context.Background(), "  lights out at 11pm  ")

	msgs := fx.events.lastMessages("ops-admin")
	if len(msgs) != 1 {
		t.Fatalf("expected optimistic message surfaced immediately, got %+v", msgs)
	}
	sent := msgs[0]
	if sent.Body != "lights out at 11pm" {
		t.Fatalf("expected normalised body, got %q", sent.Body)
	}
	if !sent.ID.IsLocal() {
		t.Fatalf("expected local id, got %v", sent.ID)
	}
	if sent.SenderID != "resident-1" {
		t.Fatalf("expected sender stamped, got %q", sent.SenderID)
	}

	select {
	case <-fx.history.created:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background persistence")
	}
	calls := fx.history.createdCalls()
	if len(calls) != 1 || calls[0] != "ops-admin:lights out at 11pm" {
		t.Fatalf("unexpected persistence calls: %v", calls)
	}
}

func TestControllerSendWhitespaceOnlyIsNoOp(t *testing.T) {
	fx := newControllerFixture(t, nil)
	fx.controller.Open("ops-admin")

	fx.controller.Send(context.Background(), "   \n\t  ")

	if got := fx.store.Cached("ops-admin"); len(got) != 0 {
		t.Fatalf("expected no message for whitespace body, got %+v", got)
	}
	if calls := fx.history.createdCalls(); len(calls) != 0 {
		t.Fatalf("expected no persistence call, got %v", calls)
	}
}

func TestControllerSendSurvivesPersistenceFailure(t *testing.T) {
	failing := &failingHistory{created: make(chan struct{}, 1)}
	fx := newControllerFixture(t, func(cfg *ControllerConfig) {
		cfg.History = failing
	})
	fx.controller.Open("ops-admin")
	fx.controller.Send(context.Background(), "hello")

	select {
	case <-failing.created:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for persistence attempt")
	}
	waitFor(t, func() bool {
		return fx.metrics.ChatEventCounts()["persist_error"] == 1
	})
	// The optimistic append is never rolled back.
	if got := fx.store.Cached("ops-admin"); len(got) != 1 {
		t.Fatalf("expected optimistic message kept, got %+v", got)
	}
}

type failingHistory struct {
	created chan struct{}
}

func (f *failingHistory) List(context.Context, string) ([]models.Message, error) {
	return nil, errors.New("service unavailable")
}

func (f *failingHistory) Create(context.Context, string, string) error {
	select {
	case f.created <- struct{}{}:
	default:
	}
	return errors.New("service unavailable")
}

func TestControllerReconcileReplacesCachedLog(t *testing.T) {
	fx := newControllerFixture(t, nil)
	fx.store.Append("ops-admin", testMessage("1700000000000-local", "ops-admin", "optimistic"))
	fx.history.mu.Lock()
	fx.history.logs["ops-admin"] = []models.Message{
		testMessage("s1", "ops-admin", "canonical one"),
		testMessage("s2", "ops-admin", "canonical two"),
	}
	fx.history.mu.Unlock()

	cached := fx.controller.Open("ops-admin")
	if len(cached) != 1 || cached[0].Body != "optimistic" {
		t.Fatalf("expected cached log surfaced before reconcile, got %+v", cached)
	}

	waitFor(t, func() bool {
		return fx.metrics.ChatEventCounts()["reconcile"] == 1
	})
	got := fx.store.Cached("ops-admin")
	if len(got) != 2 || got[0].Body != "canonical one" {
		t.Fatalf("expected server history to replace log, got %+v", got)
	}
	msgs := fx.events.lastMessages("ops-admin")
	if len(msgs) != 2 {
		t.Fatalf("expected reconciled log emitted, got %+v", msgs)
	}
}

func TestControllerReconcileFailureKeepsCachedLog(t *testing.T) {
	fx := newControllerFixture(t, nil)
	fx.history.mu.Lock()
	fx.history.listErr = errors.New("boom")
	fx.history.mu.Unlock()
	fx.store.Append("ops-admin", testMessage("m1", "ops-admin", "survives"))

	fx.controller.Open("ops-admin")

	waitFor(t, func() bool {
		return fx.metrics.ChatEventCounts()["reconcile_error"] == 1
	})
	if got := fx.store.Cached("ops-admin"); len(got) != 1 || got[0].Body != "survives" {
		t.Fatalf("expected cached log untouched on fetch failure, got %+v", got)
	}
}

func TestControllerStaleReconcileIsDiscarded(t *testing.T) {
	fx := newControllerFixture(t, nil)
	release := make(chan struct{})
	fx.history.mu.Lock()
	fx.history.release = release
	fx.history.logs["ops-admin"] = []models.Message{testMessage("s1", "ops-admin", "stale payload")}
	fx.history.mu.Unlock()

	fx.store.Append("warden-admin", testMessage("m1", "warden-admin", "current"))

	// The fetch for ops-admin hangs; the user moves on to warden-admin
	// before it completes.
	fx.controller.Open("ops-admin")
	fx.controller.SwitchChannel("warden-admin")
	close(release)

	waitFor(t, func() bool {
		return fx.metrics.ChatEventCounts()["reconcile_stale"] >= 1
	})
	if got := fx.store.Cached("ops-admin"); len(got) != 0 {
		t.Fatalf("expected stale history discarded, got %+v", got)
	}
	if got := fx.store.Cached("warden-admin"); len(got) != 1 || got[0].Body != "current" {
		t.Fatalf("expected active channel log untouched, got %+v", got)
	}
}

func TestControllerToastExpiresAndSupersedes(t *testing.T) {
	fx := newControllerFixture(t, func(cfg *ControllerConfig) {
		cfg.ToastDuration = 20 * time.Millisecond
	})

	fx.controller.Receive(inbound("ops-admin", "admin-1", "first"))
	fx.controller.Receive(inbound("warden-admin", "warden-1", "second"))

	toasts := fx.events.toastLabels()
	if len(toasts) != 2 || toasts[0] != "Admin" || toasts[1] != "Warden" {
		t.Fatalf("unexpected toasts: %v", toasts)
	}

	waitFor(t, func() bool {
		return fx.events.clearedCount() == 1
	})
	// Only the surviving timer fires; the superseded one was stopped.
	time.Sleep(60 * time.Millisecond)
	if got := fx.events.clearedCount(); got != 1 {
		t.Fatalf("expected exactly one ToastCleared, got %d", got)
	}
}

func TestControllerDisposeIsIdempotent(t *testing.T) {
	fx := newControllerFixture(t, func(cfg *ControllerConfig) {
		cfg.Transport = NewMemoryTransport(8)
	})
	fx.controller.Start(context.Background())

	fx.controller.Dispose()
	fx.controller.Dispose()

	if got := fx.controller.Open("ops-admin"); got != nil {
		t.Fatalf("expected no-op open after dispose, got %+v", got)
	}
	fx.controller.Send(context.Background(), "ignored")
	fx.controller.Receive(inbound("ops-admin", "admin-1", "late"))
	if got := fx.controller.TotalUnread(); got != 0 {
		t.Fatalf("expected no unread after dispose, got %d", got)
	}
}

func TestControllerEndToEndOverTransport(t *testing.T) {
	transport := NewMemoryTransport(8)
	fx := newControllerFixture(t, func(cfg *ControllerConfig) {
		cfg.Transport = transport
	})
	fx.controller.Start(context.Background())

	// A broadcast from another user reaches the closed widget through the
	// live subscription and counts as unread.
	if err := transport.Publish(context.Background(), "ops-admin", Broadcast{
		Channel:  "ops-admin",
		SenderID: "admin-1",
		Body:     "water outage tomorrow",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		return fx.controller.Unread("ops-admin") == 1
	})
	waitFor(t, func() bool {
		toasts := fx.events.toastLabels()
		return len(toasts) == 1 && toasts[0] == "Admin"
	})

	fx.controller.Open("ops-admin")
	if got := fx.controller.TotalUnread(); got != 0 {
		t.Fatalf("expected unread cleared on open, got %d", got)
	}
	msgs := fx.controller.Open("ops-admin")
	if len(msgs) != 1 || msgs[0].Body != "water outage tomorrow" {
		t.Fatalf("unexpected log: %+v", msgs)
	}
}
