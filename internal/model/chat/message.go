package chat

import "time"

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message kinds rendered by the chat view.
const (
	KindText     = "text"
	KindImage    = "image"
	KindProducts = "products"
)

// Message is one immutable entry of a conversation log. Products are referenced by
// identifier only and resolved on demand.
type Message struct {
	ID                   string    `json:"id"`
	Role                 Role      `json:"role"`
	Content              string    `json:"content"`
	Timestamp            time.Time `json:"timestamp"`
	ReferencedProductIDs []string  `json:"referencedProductIds,omitempty"`
	Kind                 string    `json:"kind,omitempty"`
}

// HasProducts reports whether the message points at catalog products.
func (m Message) HasProducts() bool {
	return len(m.ReferencedProductIDs) > 0
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.ReferencedProductIDs != nil {
		m.ReferencedProductIDs = append([]string(nil), m.ReferencedProductIDs...)
	}
	return m
}
