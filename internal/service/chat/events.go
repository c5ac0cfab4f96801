package chat

import (
	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/product"
)

// State of a conversation. There is no error state: failures are reported once and the
// conversation returns to StateIdle.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
)

// EventType names the entries of the conversation event feed.
type EventType string

const (
	EventMessage      EventType = "message"
	EventState        EventType = "state"
	EventNotification EventType = "notification"
	EventProducts     EventType = "products"
)

// Notice is a transient, user-visible failure report.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Event is pushed to subscribers whenever the conversation changes.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"sessionId,omitempty"`
	Message   *chat.Message     `json:"message,omitempty"`
	State     State             `json:"state,omitempty"`
	Notice    *Notice           `json:"notice,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
	Products  []product.Summary `json:"products,omitempty"`
}
