package chat

import (
	"context"
	"encoding/json"
)

// PresenceMirror publishes this node's view of who is connected so other
// nodes can answer IsOnline for users they do not hold connections for.
type PresenceMirror interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
	Refresh(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// Envelope is a frame addressed to users whose connections may live on another node.
type Envelope struct {
	Origin  string          `json:"origin"`
	Targets []int64         `json:"targets,omitempty"`
	All     bool            `json:"all,omitempty"`
	Exclude int64           `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// Bus carries envelopes between hub nodes. Implementations must not echo a
// node's own envelopes back to it.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
}

type nopMirror struct{}

func (nopMirror) Online(context.Context, int64) error           { return nil }
func (nopMirror) Offline(context.Context, int64) error          { return nil }
func (nopMirror) Refresh(context.Context, int64) error          { return nil }
func (nopMirror) IsOnline(context.Context, int64) (bool, error) { return false, nil }

type nopBus struct{}

func (nopBus) Publish(context.Context, Envelope) error { return nil }
