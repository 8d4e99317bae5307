package models

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Channel is a named conversation partition a viewer is authorised to see,
// such as one per role pairing. Channels are provided at construction time and
// never created or destroyed at runtime.
type Channel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Message is a single chat message within a channel. Messages are immutable
// after creation; a channel log is only ever appended to or replaced wholesale
// during reconciliation with the server history.
type Message struct {
	ID        MessageID `json:"id"`
	ChannelID string    `json:"channelId"`
	SenderID  string    `json:"senderId,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// APIToken is the stored form of a bearer credential accepted by the messages
// service. Only the PBKDF2 hash of the secret half is retained.
type APIToken struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	UserID     string    `json:"userId"`
	Salt       string    `json:"salt"`
	SecretHash string    `json:"secretHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NormalizeBody canonicalises a message body for comparison and storage by
// applying Unicode NFC normalisation and trimming surrounding whitespace.
func NormalizeBody(body string) string {
	return strings.TrimSpace(norm.NFC.String(body))
}
