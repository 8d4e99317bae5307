package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const localIDSuffix = "-local"

// MessageID identifies a message and records whether the identifier was
// assigned by the server or generated locally for an optimistic send that has
// not yet been confirmed. The distinction lets reconciliation correlate
// unacknowledged local sends with their server-assigned counterparts.
type MessageID struct {
	value string
	local bool
}

// ParseMessageID rebuilds a MessageID from its string form, re-tagging ids
// that carry the local-send suffix.
func ParseMessageID(value string) MessageID {
	return MessageID{value: value, local: strings.HasSuffix(value, localIDSuffix)}
}

// NewLocalMessageID derives an identifier for an optimistic send from the
// moment it was created, in the form "<unix-millis>-local".
func NewLocalMessageID(at time.Time) MessageID {
	return MessageID{value: fmt.Sprintf("%d%s", at.UnixMilli(), localIDSuffix), local: true}
}

// String returns the wire representation of the identifier.
func (id MessageID) String() string {
	return id.value
}

// IsLocal reports whether the identifier was generated locally for an
// optimistic send.
func (id MessageID) IsLocal() bool {
	return id.local
}

// IsZero reports whether the identifier is unset.
func (id MessageID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON encodes the identifier as a JSON string.
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON decodes a JSON string into the identifier, restoring the
// local tag from the suffix convention.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	if id == nil {
		return fmt.Errorf("models: cannot decode into nil MessageID pointer")
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message id: %w", err)
	}
	*id = ParseMessageID(raw)
	return nil
}
