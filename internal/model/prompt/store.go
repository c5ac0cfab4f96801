package prompt

import "strings"

// Store exposes quick prompt retrieval for HTTP handlers.
type Store interface {
	List() []QuickPrompt
	FindByID(id string) (QuickPrompt, bool)
}

// MemoryStore keeps prompts in display order with an id index. Entries without an id or
// text, and repeated ids, are skipped.
type MemoryStore struct {
	order []QuickPrompt
	byID  map[string]int
}

func NewMemoryStore(items []QuickPrompt) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]int, len(items))}
	for _, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" || strings.TrimSpace(item.Text) == "" {
			continue
		}
		if _, dup := s.byID[item.ID]; dup {
			continue
		}
		if item.Label == "" {
			item.Label = item.Text
		}
		s.byID[item.ID] = len(s.order)
		s.order = append(s.order, item)
	}
	return s
}

// List returns the prompts in display order.
func (s *MemoryStore) List() []QuickPrompt {
	return append([]QuickPrompt{}, s.order...)
}

func (s *MemoryStore) FindByID(id string) (QuickPrompt, bool) {
	idx, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return QuickPrompt{}, false
	}
	return s.order[idx], true
}
