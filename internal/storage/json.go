package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hostelhub/internal/models"
)

// MaxMessageRunes bounds the length of a stored message body.
const MaxMessageRunes = 500

type dataset struct {
	Messages map[string]models.Message  `json:"messages"`
	Tokens   map[string]models.APIToken `json:"apiTokens"`
}

func newDataset() dataset {
	return dataset{
		Messages: make(map[string]models.Message),
		Tokens:   make(map[string]models.APIToken),
	}
}

// JSONRepository keeps the full dataset in memory and persists every mutation
// to a single JSON file with an atomic replace.
type JSONRepository struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewJSONRepository opens the JSON-backed datastore, creating the file's
// directory when missing. A missing file starts an empty dataset; an
// unreadable one is an error, since silently discarding server-side history
// would defeat reconciliation.
func NewJSONRepository(path string) (*JSONRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("datastore path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create datastore directory %s: %w", dir, err)
		}
	}
	repo := &JSONRepository{filePath: path, data: newDataset()}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *JSONRepository) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read datastore %s: %w", r.filePath, err)
	}
	var stored dataset
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode datastore %s: %w", r.filePath, err)
	}
	if stored.Messages != nil {
		r.data.Messages = stored.Messages
	}
	if stored.Tokens != nil {
		r.data.Tokens = stored.Tokens
	}
	return nil
}

func (r *JSONRepository) persistLocked() error {
	if r.persistOverride != nil {
		return r.persistOverride(r.data)
	}
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := os.Rename(tmp, r.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

func (r *JSONRepository) ListMessages(_ context.Context, channelID string, limit int) ([]models.Message, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	messages := make([]models.Message, 0)
	for _, msg := range r.data.Messages {
		if msg.ChannelID == channelID {
			messages = append(messages, msg)
		}
	}
	sortMessages(messages)
	return tailMessages(messages, limit), nil
}

func (r *JSONRepository) CreateMessage(_ context.Context, params CreateMessageParams) (models.Message, error) {
	msg, err := buildMessage(params)
	if err != nil {
		return models.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Messages[msg.ID.String()] = msg
	if err := r.persistLocked(); err != nil {
		delete(r.data.Messages, msg.ID.String())
		return models.Message{}, err
	}
	return msg, nil
}

func (r *JSONRepository) InsertToken(_ context.Context, token models.APIToken) error {
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("token id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data.Tokens[token.ID]; exists {
		return fmt.Errorf("token %s already exists", token.ID)
	}
	r.data.Tokens[token.ID] = token
	if err := r.persistLocked(); err != nil {
		delete(r.data.Tokens, token.ID)
		return err
	}
	return nil
}

func (r *JSONRepository) LookupToken(_ context.Context, id string) (models.APIToken, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.data.Tokens[id]
	return token, ok, nil
}

func (r *JSONRepository) Close(context.Context) error {
	return nil
}

func buildMessage(params CreateMessageParams) (models.Message, error) {
	channelID := strings.TrimSpace(params.ChannelID)
	if channelID == "" {
		return models.Message{}, fmt.Errorf("channel id is required")
	}
	body := models.NormalizeBody(params.Body)
	if body == "" {
		return models.Message{}, fmt.Errorf("message cannot be empty")
	}
	if len([]rune(body)) > MaxMessageRunes {
		return models.Message{}, fmt.Errorf("message exceeds %d characters", MaxMessageRunes)
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return models.Message{
		ID:        models.ParseMessageID(uuid.NewString()),
		ChannelID: channelID,
		SenderID:  strings.TrimSpace(params.SenderID),
		Body:      body,
		CreatedAt: createdAt.UTC(),
	}, nil
}

func sortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID.String() < messages[j].ID.String()
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

func tailMessages(messages []models.Message, limit int) []models.Message {
	if limit > 0 && len(messages) > limit {
		return messages[len(messages)-limit:]
	}
	return messages
}
