package chat

import (
	"strings"

	"hostelhub/internal/models"
)

// Registry holds the fixed set of channels visible to the current viewer.
// It is immutable for the lifetime of the widget and has no side effects.
type Registry struct {
	channels []models.Channel
	labels   map[string]string
}

// NewRegistry builds a registry from the caller-provided channels, preserving
// order. Entries with an empty id are skipped and duplicate ids keep their
// first definition.
func NewRegistry(channels []models.Channel) *Registry {
	registry := &Registry{labels: make(map[string]string, len(channels))}
	for _, channel := range channels {
		id := strings.TrimSpace(channel.ID)
		if id == "" {
			continue
		}
		if _, exists := registry.labels[id]; exists {
			continue
		}
		channel.ID = id
		registry.channels = append(registry.channels, channel)
		registry.labels[id] = channel.Label
	}
	return registry
}

// Channels returns the registered channels in registration order.
func (r *Registry) Channels() []models.Channel {
	return append([]models.Channel(nil), r.channels...)
}

// Label resolves the display label for a channel id, falling back to the raw
// id when the channel is unknown.
func (r *Registry) Label(id string) string {
	if label, ok := r.labels[id]; ok && label != "" {
		return label
	}
	return id
}

// Contains reports whether the channel id is part of the registry.
func (r *Registry) Contains(id string) bool {
	_, ok := r.labels[id]
	return ok
}

// First returns the first registered channel, used as the default active
// channel when the widget opens without an explicit target.
func (r *Registry) First() (models.Channel, bool) {
	if len(r.channels) == 0 {
		return models.Channel{}, false
	}
	return r.channels[0], true
}

// Len reports the number of registered channels.
func (r *Registry) Len() int {
	return len(r.channels)
}
