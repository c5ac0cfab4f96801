package chat

import (
	"strings"

	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
)

// Draft is the composer's pending input.
type Draft struct {
	Text  string             `json:"text"`
	Image *upload.Attachment `json:"image,omitempty"`
}

// Trimmed returns the draft text without surrounding whitespace.
func (d Draft) Trimmed() string {
	return strings.TrimSpace(d.Text)
}

// Empty reports whether there is nothing to send.
func (d Draft) Empty() bool {
	return d.Trimmed() == "" && d.Image == nil
}

// IsImageSearch reports whether the draft turns into an image-similarity query.
func (d Draft) IsImageSearch() bool {
	return d.Image != nil
}
