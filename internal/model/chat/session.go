package chat

import "time"

// Session is a conversation known to the assistant backend, as listed in the chat sidebar.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Timestamp   time.Time `json:"timestamp"`
	LastMessage string    `json:"lastMessage,omitempty"`
}
