package notify

import "context"

// Notifier delivers a human-readable message to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop is used when no chat channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }
