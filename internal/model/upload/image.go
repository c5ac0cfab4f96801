package upload

// File is a raw file handed over by the user, e.g. from a multipart form.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// Size returns the payload length in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Attachment is a validated image together with its in-memory preview.
type Attachment struct {
	File       File   `json:"file"`
	PreviewURL string `json:"previewUrl"`
}
