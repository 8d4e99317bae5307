// Package storage persists the messages service's data: the per-channel chat
// history the widget reconciles against and the API tokens that authorise it.
// Two drivers share one interface, a JSON file store for small deployments and
// a Postgres store for shared ones.
package storage

import (
	"context"
	"time"

	"hostelhub/internal/models"
)

// CreateMessageParams carries the caller-supplied fields of a new message.
// The repository assigns the id and defaults CreatedAt to now when unset.
type CreateMessageParams struct {
	ChannelID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// Repository is the storage boundary of the messages service.
type Repository interface {
	// ListMessages returns a channel's messages ordered by CreatedAt
	// ascending. A positive limit keeps only the most recent messages
	// while preserving ascending order.
	ListMessages(ctx context.Context, channelID string, limit int) ([]models.Message, error)
	// CreateMessage validates, stores and returns a new message with a
	// server-assigned id.
	CreateMessage(ctx context.Context, params CreateMessageParams) (models.Message, error)
	// InsertToken stores a minted API token record.
	InsertToken(ctx context.Context, token models.APIToken) error
	// LookupToken resolves a token record by id.
	LookupToken(ctx context.Context, id string) (models.APIToken, bool, error)
	// Close releases the underlying resources.
	Close(ctx context.Context) error
}
