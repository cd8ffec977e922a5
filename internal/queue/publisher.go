package queue

import "context"

// Publisher hands processed items to the external delivery sender.
type Publisher interface {
	Publish(ctx context.Context, item ItemView) error
	Close() error
}
