package audit

import (
	"context"
	"time"
)

type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorVendor  ActorType = "vendor"
	ActorAdmin   ActorType = "admin"
	ActorWebhook ActorType = "webhook"
	ActorSystem  ActorType = "system"
)

type Entry struct {
	ActorType  ActorType
	ActorID    string
	EntityType string
	EntityID   string
	Action     string
	Data       map[string]any
	CreatedAt  time.Time
}

// Sink is a write-only, best-effort append.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}
