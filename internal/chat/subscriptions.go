package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"hostelhub/internal/models"
	"hostelhub/internal/observability/metrics"
)

// SubscriptionManagerConfig configures a SubscriptionManager.
type SubscriptionManagerConfig struct {
	Registry  *Registry
	Transport Transport
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// SubscriptionManager keeps exactly one live subscription per registered
// channel for the lifetime of the controller, independent of which channel is
// currently visible, so unread counts stay correct while the widget is
// collapsed.
type SubscriptionManager struct {
	registry  *Registry
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// NewSubscriptionManager initialises a manager using the provided
// configuration.
func NewSubscriptionManager(cfg SubscriptionManagerConfig) *SubscriptionManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &SubscriptionManager{
		registry:  registry,
		transport: cfg.Transport,
		logger:    logger,
		metrics:   recorder,
	}
}

// SubscribeAll opens one subscription per registered channel and forwards
// every well-formed broadcast to onMessage. Channels whose subscription fails
// to open are skipped after a warning; the returned Handle tears down whatever
// did connect. A registry with zero channels yields an empty, closable Handle.
func (m *SubscriptionManager) SubscribeAll(ctx context.Context, onMessage func(models.Message)) *Handle {
	handle := &Handle{}
	if m.transport == nil || onMessage == nil {
		return handle
	}
	for _, channel := range m.registry.Channels() {
		sub, err := m.transport.Subscribe(ctx, channel.ID)
		if err != nil {
			m.logger.Warn("chat subscription failed", "channel", channel.ID, "error", err)
			continue
		}
		handle.subs = append(handle.subs, sub)
		handle.wg.Add(1)
		go m.pump(sub, onMessage, &handle.wg)
	}
	return handle
}

// Publish broadcasts a message to all listeners of its channel, including the
// sender's own other sessions. Failures are logged and swallowed; the send is
// already reflected locally before this call, so the UI never blocks on
// transport success.
func (m *SubscriptionManager) Publish(ctx context.Context, msg models.Message) {
	if m.transport == nil {
		return
	}
	payload := Broadcast{
		Channel:   msg.ChannelID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	if err := m.transport.Publish(ctx, msg.ChannelID, payload); err != nil {
		m.logger.Warn("chat broadcast failed", "channel", msg.ChannelID, "error", err)
		m.metrics.ObserveChatEvent("publish_error")
	}
}

func (m *SubscriptionManager) pump(sub Subscription, onMessage func(models.Message), wg *sync.WaitGroup) {
	defer wg.Done()
	for payload := range sub.Events() {
		msg, ok := m.messageFromBroadcast(payload)
		if !ok {
			m.metrics.ObserveChatEvent("broadcast_drop")
			continue
		}
		onMessage(msg)
	}
}

// messageFromBroadcast validates the transport payload and constructs a
// Message from it. Payloads missing a channel id, naming a channel outside
// the registry, or carrying an empty body are dropped silently.
func (m *SubscriptionManager) messageFromBroadcast(payload Broadcast) (models.Message, bool) {
	if payload.Channel == "" || !m.registry.Contains(payload.Channel) {
		return models.Message{}, false
	}
	if payload.Body == "" {
		return models.Message{}, false
	}
	createdAt := payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return models.Message{
		ID:        models.ParseMessageID(generateID()),
		ChannelID: payload.Channel,
		SenderID:  payload.SenderID,
		Body:      payload.Body,
		CreatedAt: createdAt,
	}, true
}

// Handle owns the live subscriptions opened by SubscribeAll. Close is
// idempotent and safe on a handle with zero subscriptions.
type Handle struct {
	once sync.Once
	subs []Subscription
	wg   sync.WaitGroup
}

// Close tears down every subscription and waits for their pumps to drain.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		for _, sub := range h.subs {
			sub.Close()
		}
		h.wg.Wait()
	})
}

func generateID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(buf)
}
