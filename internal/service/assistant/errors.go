package assistant

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a failed assistant request. Message is safe to show to the user.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant %s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("assistant %s: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// UserMessage extracts a human-readable message from err.
func UserMessage(err error) string {
	var te *TransportError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	if err == nil {
		return ""
	}
	return "The assistant is unavailable right now. Please try again."
}

func statusError(op string, status int, detail string) *TransportError {
	msg := detail
	if msg == "" {
		msg = fmt.Sprintf("assistant request failed: %s", http.StatusText(status))
	}
	return &TransportError{
		Op:         op,
		StatusCode: status,
		Message:    msg,
	}
}

func networkError(op string, err error) *TransportError {
	return &TransportError{
		Op:      op,
		Message: "could not reach the assistant, check your connection and try again",
		Err:     err,
	}
}
