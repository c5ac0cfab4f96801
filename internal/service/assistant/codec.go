package assistant

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
)

// replyPayload accepts both the documented {reply, productIds} shape and the older
// {message, intent, product_ids | product_id} shape.
type replyPayload struct {
	Reply           *string  `json:"reply"`
	Message         string   `json:"message"`
	ProductIDs      []string `json:"productIds"`
	SnakeProductIDs []string `json:"product_ids"`
	ProductID       string   `json:"product_id"`
	Intent          string   `json:"intent"`
}

func decodeReply(body []byte) (chat.Reply, error) {
	var p replyPayload
	if err := sonic.Unmarshal(body, &p); err != nil {
		return chat.Reply{}, errors.Wrap(err, "decode assistant reply")
	}

	content := p.Message
	if p.Reply != nil {
		content = *p.Reply
	}

	listed := p.ProductIDs
	if len(listed) == 0 {
		listed = p.SnakeProductIDs
	}
	ids := make([]string, 0, len(listed)+1)
	for _, id := range listed {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		if id := strings.TrimSpace(p.ProductID); id != "" {
			ids = append(ids, id)
		}
	}

	if p.Reply == nil && p.Message == "" && len(ids) == 0 {
		return chat.Reply{}, errors.New("assistant reply carries neither text nor products")
	}
	return chat.ProductsReply(content, ids), nil
}

// errorDetail pulls {"error": "..."} or {"message": "..."} out of a failed response body.
func errorDetail(body []byte) string {
	var p struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &p); err != nil {
		return ""
	}
	if p.Error != "" {
		return p.Error
	}
	return p.Message
}

type sessionPayload struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	SnakeID     string `json:"session_id"`
	Title       string `json:"title"`
	Timestamp   string `json:"timestamp"`
	CreatedAt   string `json:"createdAt"`
	LastMessage string `json:"lastMessage"`
}

func (p sessionPayload) toSession() chat.Session {
	id := firstNonEmpty(p.ID, p.SessionID, p.SnakeID)
	title := p.Title
	if title == "" {
		title = "New chat"
	}
	return chat.Session{
		ID:          id,
		Title:       title,
		Timestamp:   parseTime(firstNonEmpty(p.Timestamp, p.CreatedAt)),
		LastMessage: p.LastMessage,
	}
}

func decodeSessions(body []byte) ([]chat.Session, error) {
	var list []sessionPayload
	if err := sonic.Unmarshal(body, &list); err != nil {
		var wrapped struct {
			Sessions []sessionPayload `json:"sessions"`
		}
		if err2 := sonic.Unmarshal(body, &wrapped); err2 != nil {
			return nil, errors.Wrap(err, "decode sessions")
		}
		list = wrapped.Sessions
	}

	sessions := make([]chat.Session, 0, len(list))
	for _, p := range list {
		s := p.toSession()
		if s.ID == "" {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func decodeSession(body []byte) (chat.Session, error) {
	var wrapped struct {
		Session *sessionPayload `json:"session"`
	}
	if err := sonic.Unmarshal(body, &wrapped); err == nil && wrapped.Session != nil {
		if s := wrapped.Session.toSession(); s.ID != "" {
			return s, nil
		}
	}

	var p sessionPayload
	if err := sonic.Unmarshal(body, &p); err != nil {
		return chat.Session{}, errors.Wrap(err, "decode session")
	}
	s := p.toSession()
	if s.ID == "" {
		return chat.Session{}, errors.New("session response has no id")
	}
	return s, nil
}

type historyMessage struct {
	ID         string          `json:"id"`
	MongoID    string          `json:"_id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Timestamp  string          `json:"timestamp"`
	ProductIDs json.RawMessage `json:"productIds"`
	Type       string          `json:"type"`
}

func decodeHistory(body []byte) ([]chat.Message, error) {
	var list []historyMessage
	if err := sonic.Unmarshal(body, &list); err != nil {
		var wrapped struct {
			Messages []historyMessage `json:"messages"`
			History  []historyMessage `json:"history"`
		}
		if err2 := sonic.Unmarshal(body, &wrapped); err2 != nil {
			return nil, errors.Wrap(err, "decode history")
		}
		list = wrapped.Messages
		if len(list) == 0 {
			list = wrapped.History
		}
	}

	messages := make([]chat.Message, 0, len(list))
	for _, h := range list {
		role := chat.Role(strings.ToLower(strings.TrimSpace(h.Role)))
		if role != chat.RoleUser && role != chat.RoleAssistant {
			continue
		}
		msg := chat.Message{
			ID:                   firstNonEmpty(h.ID, h.MongoID),
			Role:                 role,
			Content:              h.Content,
			Timestamp:            parseTime(h.Timestamp),
			ReferencedProductIDs: decodeProductIDs(h.ProductIDs),
			Kind:                 h.Type,
		}
		if msg.Kind == "" {
			msg.Kind = chat.KindText
			if msg.HasProducts() {
				msg.Kind = chat.KindProducts
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// productIds is either a list or a single id in stored history.
func decodeProductIDs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	if err := sonic.Unmarshal(raw, &ids); err == nil {
		return ids
	}
	var single string
	if err := sonic.Unmarshal(raw, &single); err == nil && strings.TrimSpace(single) != "" {
		return []string{strings.TrimSpace(single)}
	}
	return nil
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
