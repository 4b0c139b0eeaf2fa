// Package publisher defines the notification boundary used to announce
// finished operations to downstream systems.
package publisher

import "context"

// Publisher delivers a payload to a topic and returns the broker message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Attributed is implemented by payloads that carry broker attributes.
type Attributed interface {
	Attributes() map[string]string
}
