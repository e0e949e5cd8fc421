package domain

import (
	"context"
	"errors"
)

// ErrNoPeerSelected is returned by operations that require an active
// conversation.
var ErrNoPeerSelected = errors.New("no peer selected")

// MessageAPI is the REST surface the conversation store depends on.
type MessageAPI interface {
	Peers(ctx context.Context) ([]Identity, error)
	History(ctx context.Context, peerID string) ([]Message, error)
	Send(ctx context.Context, peerID string, draft Draft) (Message, error)
}

// MessageFeed delivers inbound pushed messages matching a filter. The
// returned cancel func detaches the handler and is safe to call more than
// once.
type MessageFeed interface {
	OnInboundMessage(filter func(Message) bool, handler func(Message)) (cancel func())
}
