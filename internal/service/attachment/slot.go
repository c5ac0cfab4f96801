package attachment

import (
	"sync"

	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
)

// Slot holds at most one validated image attachment.
type Slot struct {
	mu        sync.Mutex
	validator Validator
	current   *upload.Attachment
}

// NewSlot creates an empty slot. A nil validator falls back to NewImageValidator.
func NewSlot(validator Validator) *Slot {
	if validator == nil {
		validator = NewImageValidator()
	}
	return &Slot{validator: validator}
}

// Prepare validates file and builds its preview without touching the slot.
func (s *Slot) Prepare(file upload.File) (upload.Attachment, error) {
	if err := s.validator.Validate(file); err != nil {
		return upload.Attachment{}, err
	}
	preview, err := s.validator.Preview(file)
	if err != nil {
		return upload.Attachment{}, err
	}
	return upload.Attachment{File: file, PreviewURL: preview}, nil
}

// Attach validates file and, on success, replaces the current attachment.
// A rejected file leaves the previous attachment in place.
func (s *Slot) Attach(file upload.File) (upload.Attachment, error) {
	att, err := s.Prepare(file)
	if err != nil {
		return upload.Attachment{}, err
	}

	s.mu.Lock()
	s.current = &att
	s.mu.Unlock()
	return att, nil
}

// Current returns the attachment, if any.
func (s *Slot) Current() (upload.Attachment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return upload.Attachment{}, false
	}
	return *s.current, true
}

// Take returns the attachment and empties the slot.
func (s *Slot) Take() *upload.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	att := s.current
	s.current = nil
	return att
}

// Clear drops the file and its preview. Clearing an empty slot is a no-op.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
