// Package pubsub provides a small generic publish/subscribe broker. Manifest
// change notifications from the watcher and log lines from internal/log travel
// through it.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent     EventType = "created"
	UpdatedEvent     EventType = "updated"
	DeletedEvent     EventType = "deleted"
	InvalidatedEvent EventType = "invalidated"
)

// Event is a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// ManifestChange describes a manifest document that appeared, changed or
// disappeared on disk.
type ManifestChange struct {
	Path string
	// ProtocolType is the directory name under the manifest root, when the
	// path follows the {type}/{id}@{version} layout.
	ProtocolType string
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}
