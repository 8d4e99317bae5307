package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"hostelhub/internal/models"
	"hostelhub/internal/observability/metrics"
)

// DefaultToastDuration is how long a notification toast stays visible before
// the controller emits ToastCleared. Any newer toast supersedes the pending
// one.
const DefaultToastDuration = 3500 * time.Millisecond

// Events is the sink a presentation layer binds to. No other coupling to the
// UI exists. Implementations must be cheap; they are invoked from the
// controller's goroutines.
type Events interface {
	MessagesChanged(channelID string, messages []models.Message)
	UnreadChanged(channelID string, count int)
	ToastShown(channelLabel string)
	ToastCleared()
}

// HistoryAPI seeds reconciliation with the server-side message history and
// persists outbound sends. Both operations are best-effort from the
// controller's point of view.
type HistoryAPI interface {
	List(ctx context.Context, channelID string) ([]models.Message, error)
	Create(ctx context.Context, channelID, body string) error
}

// ControllerConfig configures a Controller. Registry, Store and UserID are
// required; Transport, History and Events may be nil, disabling live
// subscriptions, reconciliation and UI callbacks respectively.
type ControllerConfig struct {
	Registry      *Registry
	Transport     Transport
	Store         *MessageStore
	History       HistoryAPI
	Events        Events
	UserID        string
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	ToastDuration time.Duration
}

// Controller is the state machine a UI binds to: Closed or Open with an
// active channel. It owns the per-channel unread counters and the widget's
// open state; the message logs belong to the MessageStore. No operation
// returns an error for network or storage failure — every such failure
// degrades to "message may not be delivered" rather than blocking the UI.
type Controller struct {
	registry      *Registry
	subs          *SubscriptionManager
	store         *MessageStore
	history       HistoryAPI
	events        Events
	userID        string
	logger        *slog.Logger
	metrics       *metrics.Recorder
	toastDuration time.Duration

	reconcileGroup singleflight.Group

	mu          sync.Mutex
	runCtx      context.Context
	handle      *Handle
	open        bool
	active      string
	lastActive  string
	unread      map[string]int
	generations map[string]uint64
	toastTimer  *time.Timer
	toastSeq    uint64
	disposed    bool
}

// NewController initialises a controller with its collaborators injected.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("message store is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	toastDuration := cfg.ToastDuration
	if toastDuration <= 0 {
		toastDuration = DefaultToastDuration
	}
	return &Controller{
		registry: cfg.Registry,
		subs: NewSubscriptionManager(SubscriptionManagerConfig{
			Registry:  cfg.Registry,
			Transport: cfg.Transport,
			Logger:    logger,
			Metrics:   recorder,
		}),
		store:         cfg.Store,
		history:       cfg.History,
		events:        cfg.Events,
		userID:        cfg.UserID,
		logger:        logger,
		metrics:       recorder,
		toastDuration: toastDuration,
		runCtx:        context.Background(),
		unread:        make(map[string]int),
		generations:   make(map[string]uint64),
	}, nil
}

// Start opens one subscription per registered channel so unread counting
// works from the first receive, even while the widget stays closed.
func (c *Controller) Start(ctx context.Context) {
	handle := c.subs.SubscribeAll(ctx, c.Receive)
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		handle.Close()
		return
	}
	c.runCtx = context.WithoutCancel(ctx)
	c.handle = handle
	c.mu.Unlock()
}

// Dispose tears down subscriptions and the pending toast timer. It is
// idempotent.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	handle := c.handle
	c.handle = nil
	if c.toastTimer != nil {
		c.toastTimer.Stop()
		c.toastTimer = nil
	}
	c.mu.Unlock()
	handle.Close()
}

// Open transitions the widget to Open. An empty channel id falls back to the
// last active channel, then the first registered one. On entry the cached log
// is surfaced immediately, the channel's unread counter clears, and a
// server-history reconciliation is kicked off in the background for the
// newly active channel only.
func (c *Controller) Open(channelID string) []models.Message {
	return c.enterChannel(channelID)
}

// SwitchChannel changes the active channel of an open widget, with the same
// on-entry behaviour as Open.
func (c *Controller) SwitchChannel(channelID string) []models.Message {
	return c.enterChannel(channelID)
}

// Close collapses the visible surface. Subscriptions stay live so unread
// counting continues for all channels.
func (c *Controller) Close() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// IsOpen reports whether the widget surface is currently open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// ActiveChannel returns the channel the open widget is showing. The second
// return is false while the widget is closed.
func (c *Controller) ActiveChannel() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.open
}

// Unread returns the unread count for one channel.
func (c *Controller) Unread(channelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[channelID]
}

// TotalUnread sums unread counts across all channels, used for the collapsed
// widget's badge.
func (c *Controller) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalUnreadLocked()
}

func (c *Controller) totalUnreadLocked() int {
	total := 0
	for _, count := range c.unread {
		total += count
	}
	return total
}

func (c *Controller) enterChannel(channelID string) []models.Message {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	target := channelID
	if !c.registry.Contains(target) {
		target = c.lastActive
	}
	if !c.registry.Contains(target) {
		first, ok := c.registry.First()
		if !ok {
			c.mu.Unlock()
			return nil
		}
		target = first.ID
	}
	c.open = true
	c.active = target
	c.lastActive = target
	c.unread[target] = 0
	c.generations[target]++
	generation := c.generations[target]
	total := c.totalUnreadLocked()
	ctx := c.runCtx
	c.mu.Unlock()

	c.metrics.SetUnreadTotal(total)
	c.emitUnread(target, 0)
	messages := c.store.Cached(target)
	c.emitMessages(target, messages)
	go c.reconcile(ctx, target, generation)
	return messages
}

// Receive feeds an inbound message into the controller. It is invoked by the
// subscription manager for transport broadcasts and may be called directly by
// hosts that bridge other event sources.
func (c *Controller) Receive(msg models.Message) {
	if msg.ChannelID == "" {
		return
	}
	c.store.Append(msg.ChannelID, msg)
	c.metrics.ObserveChatEvent("receive")

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	selfEcho := msg.SenderID != "" && msg.SenderID == c.userID
	visible := c.open && c.active == msg.ChannelID
	var (
		unreadCount = -1
		toastLabel  string
		total       int
	)
	if !selfEcho && !visible {
		c.unread[msg.ChannelID]++
		unreadCount = c.unread[msg.ChannelID]
		toastLabel = c.registry.Label(msg.ChannelID)
		total = c.totalUnreadLocked()
	}
	c.mu.Unlock()

	if visible {
		c.emitMessages(msg.ChannelID, c.store.Cached(msg.ChannelID))
	}
	if unreadCount >= 0 {
		c.metrics.SetUnreadTotal(total)
		c.emitUnread(msg.ChannelID, unreadCount)
		c.showToast(toastLabel)
	}
}

// Send performs an optimistic send of body to the active channel. A
// whitespace-only body is a no-op. The message is appended locally and the
// visible log updated before any network I/O; the broadcast and the
// persistence POST then run in the background and their failures are logged,
// never surfaced, and never rolled back.
func (c *Controller) Send(ctx context.Context, body string) {
	trimmed := models.NormalizeBody(body)
	if trimmed == "" {
		return
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	target := c.active
	if !c.registry.Contains(target) {
		target = c.lastActive
	}
	if !c.registry.Contains(target) {
		first, ok := c.registry.First()
		if !ok {
			c.mu.Unlock()
			return
		}
		target = first.ID
	}
	visible := c.open && c.active == target
	c.mu.Unlock()

	now := time.Now().UTC()
	msg := models.Message{
		ID:        models.NewLocalMessageID(now),
		ChannelID: target,
		SenderID:  c.userID,
		Body:      trimmed,
		CreatedAt: now,
	}
	c.store.Append(target, msg)
	c.metrics.ObserveChatEvent("send")
	if visible {
		c.emitMessages(target, c.store.Cached(target))
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		c.subs.Publish(bg, msg)
		if c.history == nil {
			return
		}
		if err := c.history.Create(bg, target, trimmed); err != nil {
			c.logger.Warn("chat send persistence failed", "channel", target, "error", err)
			c.metrics.ObserveChatEvent("persist_error")
		}
	}()
}

// reconcile fetches the server history for the channel and applies it through
// the store's replacement policy. Concurrent fetches for the same channel are
// collapsed, and a response is discarded when the user has since left the
// channel or re-entered it (the generation no longer matches), so a stale
// fetch can never clobber the visible log.
func (c *Controller) reconcile(ctx context.Context, channelID string, generation uint64) {
	if c.history == nil {
		return
	}
	result, err, _ := c.reconcileGroup.Do(channelID, func() (interface{}, error) {
		return c.history.List(ctx, channelID)
	})
	if err != nil {
		c.logger.Warn("chat history fetch failed", "channel", channelID, "error", err)
		c.metrics.ObserveChatEvent("reconcile_error")
		return
	}
	serverMessages, _ := result.([]models.Message)

	c.mu.Lock()
	stale := c.disposed || !c.open || c.active != channelID || c.generations[channelID] != generation
	c.mu.Unlock()
	if stale {
		c.metrics.ObserveChatEvent("reconcile_stale")
		return
	}

	messages := c.store.Reconcile(channelID, serverMessages)
	c.metrics.ObserveChatEvent("reconcile")
	c.emitMessages(channelID, messages)
}

func (c *Controller) showToast(label string) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	if c.toastTimer != nil {
		c.toastTimer.Stop()
	}
	c.toastSeq++
	seq := c.toastSeq
	c.toastTimer = time.AfterFunc(c.toastDuration, func() {
		c.expireToast(seq)
	})
	c.mu.Unlock()

	c.metrics.ObserveChatEvent("toast")
	if c.events != nil {
		c.events.ToastShown(label)
	}
}

func (c *Controller) expireToast(seq uint64) {
	c.mu.Lock()
	if c.disposed || c.toastSeq != seq {
		c.mu.Unlock()
		return
	}
	c.toastTimer = nil
	c.mu.Unlock()
	if c.events != nil {
		c.events.ToastCleared()
	}
}

func (c *Controller) emitMessages(channelID string, messages []models.Message) {
	if c.events != nil {
		c.events.MessagesChanged(channelID, messages)
	}
}

func (c *Controller) emitUnread(channelID string, count int) {
	if c.events != nil {
		c.events.UnreadChanged(channelID, count)
	}
}
