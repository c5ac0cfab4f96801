package assistant

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
)

// ListSessions returns the conversations the backend knows about.
func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	body, err := c.do(ctx, "list sessions", http.MethodGet, "/chat/sessions", "", nil)
	if err != nil {
		return nil, err
	}
	sessions, err := decodeSessions(body)
	if err != nil {
		return nil, &TransportError{Op: "list sessions", Message: "could not read chat sessions", Err: err}
	}
	return sessions, nil
}

// CreateSession starts a new backend conversation.
func (c *Client) CreateSession(ctx context.Context) (chat.Session, error) {
	body, err := c.do(ctx, "create session", http.MethodPost, "/chat/session", "application/json", nil)
	if err != nil {
		return chat.Session{}, err
	}
	session, err := decodeSession(body)
	if err != nil {
		return chat.Session{}, &TransportError{Op: "create session", Message: "could not start a new chat", Err: err}
	}
	return session, nil
}

// History loads the stored messages of a session.
func (c *Client) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	path := "/chat/history?sessionId=" + url.QueryEscape(sessionID)
	body, err := c.do(ctx, "load history", http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	messages, err := decodeHistory(body)
	if err != nil {
		return nil, &TransportError{Op: "load history", Message: "could not read chat history", Err: err}
	}
	return messages, nil
}
