package assistant

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
)

const (
	maxErrorBody    = 2048
	maxResponseBody = 8 << 20
)

// Options configures Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client talks to the assistant backend over HTTP. Every call is a single attempt:
// the backend may create sessions as a side effect, so nothing is retried here.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	log     logrus.FieldLogger
}

// NewClient builds a Client. The default HTTP client is used as-is, without a timeout.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("assistant base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrapf(err, "invalid assistant base URL %q", base)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		http:    httpClient,
		baseURL: base,
		token:   strings.TrimSpace(opts.Token),
		log:     logger.WithField("component", "assistant"),
	}, nil
}

// SendMessage posts a text query to the assistant. A non-empty sessionID is sent as
// session_id so the backend files the turn under that session.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (chat.Reply, error) {
	fields := map[string]string{"message": text}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	payload, err := sonic.Marshal(fields)
	if err != nil {
		return chat.Reply{}, &TransportError{Op: "send message", Message: "could not encode the message", Err: err}
	}

	body, err := c.do(ctx, "send message", http.MethodPost, "/chat/message", "application/json", bytes.NewReader(payload))
	if err != nil {
		return chat.Reply{}, err
	}
	return c.reply("send message", body)
}

// SendImageQuery posts an image, with an optional caption, as a multipart image search.
func (c *Client) SendImageQuery(ctx context.Context, sessionID string, image upload.File, text string) (chat.Reply, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := image.Name
	if filename == "" {
		filename = "image"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+escapeQuotes(filename)+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err == nil {
		_, err = part.Write(image.Data)
	}
	if err == nil && strings.TrimSpace(text) != "" {
		err = mw.WriteField("message", strings.TrimSpace(text))
	}
	if err == nil && sessionID != "" {
		err = mw.WriteField("session_id", sessionID)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return chat.Reply{}, &TransportError{Op: "image search", Message: "could not prepare the image upload", Err: err}
	}

	body, err := c.do(ctx, "image search", http.MethodPost, "/chat/message", mw.FormDataContentType(), &buf)
	if err != nil {
		return chat.Reply{}, err
	}
	return c.reply("image search", body)
}

func (c *Client) reply(op string, body []byte) (chat.Reply, error) {
	reply, err := decodeReply(body)
	if err != nil {
		return chat.Reply{}, &TransportError{Op: op, Message: "the assistant sent an unreadable reply", Err: err}
	}
	return reply, nil
}

// do issues one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op, Message: "could not build the request", Err: errors.Wrap(err, "build request")}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("op", op).Warn("assistant request failed")
		return nil, networkError(op, errors.Wrapf(err, "%s %s", method, path))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, networkError(op, errors.Wrap(err, "read response body"))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		c.log.WithFields(logrus.Fields{
			"op":     op,
			"status": resp.StatusCode,
		}).Warn("assistant returned non-success status")
		return nil, statusError(op, resp.StatusCode, errorDetail(data))
	}
	if len(data) > maxResponseBody {
		return nil, &TransportError{Op: op, Message: "the assistant sent an oversized reply", Err: errors.Errorf("response body exceeds %d bytes", maxResponseBody)}
	}
	return data, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
