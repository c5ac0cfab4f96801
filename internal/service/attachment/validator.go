package attachment

import (
	"encoding/base64"
	"errors"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
)

// MaxImageBytes is the largest image accepted for an image search.
const MaxImageBytes = 5 << 20

var (
	ErrInvalidFileType = errors.New("only image files are allowed")
	ErrFileTooLarge    = errors.New("image must be 5MB or smaller")
	ErrEmptyFile       = errors.New("image file is empty")
)

// Validator checks user-supplied files and renders previews for them.
type Validator interface {
	Validate(file upload.File) error
	Preview(file upload.File) (string, error)
}

// ImageValidator accepts image/* files up to MaxImageBytes.
type ImageValidator struct {
	maxBytes int64
}

// NewImageValidator returns the default image validator.
func NewImageValidator() *ImageValidator {
	return &ImageValidator{maxBytes: MaxImageBytes}
}

// Validate rejects non-image and oversized files. The type check uses the declared media type;
// a file without one is typed by sniffing its content.
func (v *ImageValidator) Validate(file upload.File) error {
	if !isImageType(MediaType(file)) {
		return ErrInvalidFileType
	}
	if file.Size() > v.maxBytes {
		return ErrFileTooLarge
	}
	if file.Size() == 0 {
		return ErrEmptyFile
	}
	return nil
}

// Preview renders the file as a data URL. It does not retain the file.
func (v *ImageValidator) Preview(file upload.File) (string, error) {
	if err := v.Validate(file); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(file.Data)*4/3 + 32)
	b.WriteString("data:")
	b.WriteString(MediaType(file))
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(file.Data))
	return b.String(), nil
}

// MediaType returns the declared media type without parameters, falling back to content sniffing.
func MediaType(file upload.File) string {
	declared := strings.TrimSpace(file.ContentType)
	if declared != "" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil {
			return strings.ToLower(parsed)
		}
		return strings.ToLower(declared)
	}
	if len(file.Data) == 0 {
		return ""
	}
	detected := mimetype.Detect(file.Data).String()
	if parsed, _, err := mime.ParseMediaType(detected); err == nil {
		return parsed
	}
	return detected
}

func isImageType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}
