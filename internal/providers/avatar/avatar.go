package avatar

import (
	"context"
	"errors"
)

// ErrProvider wraps every failure of the conversation provider, timeouts included.
var ErrProvider = errors.New("conversation provider error")

type OpenRequest struct {
	ContextText     string
	Greeting        string
	LanguageCode    string
	ReplicaID       string
	PersonaID       string
	MaxCallDuration int // seconds
}

// Conversation is the handle a client uses to join the live session.
type Conversation struct {
	ConversationID  string
	ConversationURL string
	DailyRoomURL    string
	Status          string
	Raw             map[string]any
}

type Provider interface {
	Open(ctx context.Context, req OpenRequest) (*Conversation, error)
	End(ctx context.Context, conversationID string) error
}
