package composer

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
	"github.com/zhouzirui/shopmate/backend/internal/service/attachment"
)

// ErrSubmitPending rejects a submit while the previous one is still in flight.
var ErrSubmitPending = errors.New("previous message is still being sent")

// Dispatcher receives a finished draft. It blocks until the assistant request settles.
type Dispatcher interface {
	Submit(ctx context.Context, draft chat.Draft) error
}

// Composer owns the single draft of one chat input and gates submission so only one
// request is in flight at a time.
type Composer struct {
	mu         sync.Mutex
	text       string
	slot       *attachment.Slot
	dispatcher Dispatcher
	pending    bool
}

// New creates a composer feeding dispatcher. A nil validator uses the default image rules.
func New(dispatcher Dispatcher, validator attachment.Validator) *Composer {
	return &Composer{
		slot:       attachment.NewSlot(validator),
		dispatcher: dispatcher,
	}
}

// SetText replaces the draft text.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

// AttachImage validates file and replaces any previous attachment.
func (c *Composer) AttachImage(file upload.File) (upload.Attachment, error) {
	return c.slot.Attach(file)
}

// ClearImage drops the attachment; no-op when nothing is attached.
func (c *Composer) ClearImage() {
	c.slot.Clear()
}

// Draft returns a snapshot of the current input.
func (c *Composer) Draft() chat.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draftLocked()
}

// Pending reports whether a submit is in flight.
func (c *Composer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Submit sends the draft and waits for the request to settle. An empty draft is a no-op.
func (c *Composer) Submit(ctx context.Context) error {
	done, err := c.SubmitAsync(ctx)
	if err != nil || done == nil {
		return err
	}
	return <-done
}

// SubmitAsync claims the in-flight slot, clears the draft and dispatches it in the
// background. It returns (nil, nil) for an empty draft and ErrSubmitPending while a
// previous request is unresolved. The channel yields the dispatch result once.
func (c *Composer) SubmitAsync(ctx context.Context) (<-chan error, error) {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return nil, ErrSubmitPending
	}
	draft := c.draftLocked()
	if draft.Empty() {
		c.mu.Unlock()
		return nil, nil
	}
	c.pending = true
	c.text = ""
	draft.Image = c.slot.Take()
	c.mu.Unlock()

	return c.dispatch(ctx, draft), nil
}

// SubmitDraft sends text and an optional image as one submit, bypassing the stored
// draft. Input that is rejected, by ErrSubmitPending or by image validation, never
// reaches the stored draft. An accepted submit clears it.
func (c *Composer) SubmitDraft(ctx context.Context, text string, image *upload.File) (<-chan error, error) {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return nil, ErrSubmitPending
	}

	draft := chat.Draft{Text: text}
	if image != nil {
		att, err := c.slot.Prepare(*image)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		draft.Image = &att
	}
	if draft.Empty() {
		c.mu.Unlock()
		return nil, nil
	}
	c.pending = true
	c.text = ""
	c.slot.Clear()
	c.mu.Unlock()

	return c.dispatch(ctx, draft), nil
}

func (c *Composer) dispatch(ctx context.Context, draft chat.Draft) <-chan error {
	draft.Text = draft.Trimmed()

	done := make(chan error, 1)
	go func() {
		err := c.dispatcher.Submit(ctx, draft)

		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()

		done <- err
		close(done)
	}()
	return done
}

func (c *Composer) draftLocked() chat.Draft {
	draft := chat.Draft{Text: c.text}
	if att, ok := c.slot.Current(); ok {
		draft.Image = &att
	}
	return draft
}
