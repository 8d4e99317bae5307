package chat

import (
	"encoding/json"
	"log/slog"
	"sync"

	"hostelhub/internal/cache"
	"hostelhub/internal/models"
	"hostelhub/internal/observability/metrics"
)

// CacheKeyPrefix namespaces the widget's entries inside the shared local
// cache. Bump the version segment when the serialised log format changes.
const CacheKeyPrefix = "chat_cache_v1_"

// MessageStoreConfig configures a MessageStore.
type MessageStoreConfig struct {
	Cache   cache.Store
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// MessageStore owns each channel's ordered message log, both the in-memory
// copy and the locally cached one. Logs are append-only and never reordered
// on read; the only removal is a full-log replacement during reconciliation.
// All cache failures degrade to empty-cache behaviour.
type MessageStore struct {
	cache   cache.Store
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu     sync.Mutex
	logs   map[string][]models.Message
	loaded map[string]bool
}

// NewMessageStore initialises a store using the provided configuration. A nil
// cache disables local persistence; the in-memory log still works.
func NewMessageStore(cfg MessageStoreConfig) *MessageStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &MessageStore{
		cache:   cfg.Cache,
		logger:  logger,
		metrics: recorder,
		logs:    make(map[string][]models.Message),
		loaded:  make(map[string]bool),
	}
}

// Append adds the message to the channel's in-memory log and synchronously
// persists the full updated log to the local cache. The overwrite-everything
// policy trades efficiency for simplicity; channel logs are short-lived.
func (s *MessageStore) Append(channelID string, msg models.Message) {
	if channelID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrateLocked(channelID)
	s.logs[channelID] = append(s.logs[channelID], msg)
	s.persistLocked(channelID)
}

// Cached returns the channel's log as currently known locally, or an empty
// slice when nothing is cached or the cached entry is unreadable.
func (s *MessageStore) Cached(channelID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrateLocked(channelID)
	return cloneMessages(s.logs[channelID])
}

// Reconcile applies a server-fetched history to the channel. The policy is
// replacement, not merge: a non-empty server history replaces the log and
// cache unconditionally, while an empty one leaves the existing state
// untouched. The returned slice is the channel's log after reconciliation.
func (s *MessageStore) Reconcile(channelID string, serverMessages []models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrateLocked(channelID)
	if len(serverMessages) == 0 {
		return cloneMessages(s.logs[channelID])
	}
	s.logs[channelID] = cloneMessages(serverMessages)
	s.persistLocked(channelID)
	return cloneMessages(s.logs[channelID])
}

func (s *MessageStore) hydrateLocked(channelID string) {
	if s.loaded[channelID] {
		return
	}
	s.loaded[channelID] = true
	if s.cache == nil {
		return
	}
	data, ok, err := s.cache.Get(CacheKeyPrefix + channelID)
	if err != nil {
		s.logger.Warn("chat cache read failed", "channel", channelID, "error", err)
		s.metrics.ObserveChatEvent("cache_error")
		return
	}
	if !ok {
		return
	}
	var messages []models.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		s.logger.Warn("chat cache entry corrupt", "channel", channelID, "error", err)
		s.metrics.ObserveChatEvent("cache_error")
		return
	}
	s.logs[channelID] = messages
}

func (s *MessageStore) persistLocked(channelID string) {
	if s.cache == nil {
		return
	}
	log := s.logs[channelID]
	if log == nil {
		log = []models.Message{}
	}
	data, err := json.Marshal(log)
	if err != nil {
		s.logger.Error("chat cache encode failed", "channel", channelID, "error", err)
		s.metrics.ObserveChatEvent("cache_error")
		return
	}
	if err := s.cache.Set(CacheKeyPrefix+channelID, data); err != nil {
		s.logger.Warn("chat cache write failed", "channel", channelID, "error", err)
		s.metrics.ObserveChatEvent("cache_error")
	}
}

func cloneMessages(messages []models.Message) []models.Message {
	return append([]models.Message(nil), messages...)
}
