package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/product"
	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
	"github.com/zhouzirui/shopmate/backend/internal/service/assistant"
)

var ErrConversationClosed = errors.New("conversation closed")

const (
	subscriberBuffer = 32
	imagePlaceholder = "[image]"
)

// Transport sends one request to the shopping assistant on behalf of a session.
type Transport interface {
	SendMessage(ctx context.Context, sessionID, text string) (chat.Reply, error)
	SendImageQuery(ctx context.Context, sessionID string, image upload.File, text string) (chat.Reply, error)
}

// ProductResolver materializes the products referenced by an assistant message.
type ProductResolver interface {
	ResolveMessage(ctx context.Context, msg chat.Message) []product.Summary
}

// Options configures a Conversation. Only Transport is required.
type Options struct {
	SessionID string
	Transport Transport
	Resolver  ProductResolver
	Notifier  Notifier
	Logger    logrus.FieldLogger
	History   []chat.Message
}

// Conversation is the append-only message log of one chat session and the Idle/Pending
// machine driving it. Single-flight is enforced by the composer feeding it.
type Conversation struct {
	id        string
	transport Transport
	resolver  ProductResolver
	notifier  Notifier
	log       logrus.FieldLogger
	now       func() time.Time

	// resolutions outlive the submit that started them; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	messages    []chat.Message
	state       State
	closed      bool
	subscribers map[chan Event]struct{}
}

func NewConversation(opts Options) (*Conversation, error) {
	if opts.Transport == nil {
		return nil, errors.New("assistant transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	// Stored history may lack ids; every message in the log must be addressable.
	messages := make([]chat.Message, 0, len(opts.History)+16)
	seen := make(map[string]struct{}, len(opts.History))
	for _, msg := range opts.History {
		msg = msg.Clone()
		if _, dup := seen[msg.ID]; msg.ID == "" || dup {
			msg.ID = uuid.NewString()
		}
		seen[msg.ID] = struct{}{}
		messages = append(messages, msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conversation{
		id:          id,
		transport:   opts.Transport,
		resolver:    opts.Resolver,
		notifier:    opts.Notifier,
		log:         logger.WithFields(logrus.Fields{"component": "conversation", "session": id}),
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
		messages:    messages,
		state:       StateIdle,
		subscribers: make(map[chan Event]struct{}),
	}, nil
}

func (c *Conversation) ID() string {
	return c.id
}

// Messages returns a copy of the log in append order.
func (c *Conversation) Messages() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chat.Message, len(c.messages))
	for i, msg := range c.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Message looks up a logged message by id.
func (c *Conversation) Message(id string) (chat.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, msg := range c.messages {
		if msg.ID == id {
			return msg.Clone(), true
		}
	}
	return chat.Message{}, false
}

func (c *Conversation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Submit appends the user message, dispatches the draft and records the outcome: an
// assistant message on success, a single notification on failure. The user message is
// never rolled back. The returned error has already been reported through the feed.
func (c *Conversation) Submit(ctx context.Context, draft chat.Draft) error {
	if draft.Empty() {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationClosed
	}
	userMsg := c.userMessage(draft)
	c.messages = append(c.messages, userMsg)
	c.state = StatePending
	c.publishMessageLocked(userMsg)
	c.publishLocked(Event{Type: EventState, State: StatePending})
	c.mu.Unlock()

	reply, err := c.dispatch(ctx, draft)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Debug("ignoring completion for closed conversation")
		return ErrConversationClosed
	}
	c.state = StateIdle

	if err != nil {
		notice := Notice{Level: "error", Message: assistant.UserMessage(err)}
		c.publishLocked(Event{Type: EventNotification, Notice: &notice})
		c.publishLocked(Event{Type: EventState, State: StateIdle})
		c.mu.Unlock()

		c.log.WithError(err).Warn("assistant request failed")
		if c.notifier != nil {
			c.notifier.Notify(c.id, notice)
		}
		return err
	}

	replyMsg := c.assistantMessage(reply)
	c.messages = append(c.messages, replyMsg)
	c.publishMessageLocked(replyMsg)
	c.publishLocked(Event{Type: EventState, State: StateIdle})
	if replyMsg.HasProducts() && c.resolver != nil {
		c.wg.Add(1)
		go c.resolve(replyMsg.Clone())
	}
	c.mu.Unlock()
	return nil
}

func (c *Conversation) dispatch(ctx context.Context, draft chat.Draft) (chat.Reply, error) {
	if draft.IsImageSearch() {
		return c.transport.SendImageQuery(ctx, c.id, draft.Image.File, draft.Trimmed())
	}
	return c.transport.SendMessage(ctx, c.id, draft.Trimmed())
}

func (c *Conversation) resolve(msg chat.Message) {
	defer c.wg.Done()

	products := c.resolver.ResolveMessage(c.ctx, msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.publishLocked(Event{Type: EventProducts, MessageID: msg.ID, Products: products})
}

func (c *Conversation) userMessage(draft chat.Draft) chat.Message {
	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   draft.Trimmed(),
		Timestamp: c.now(),
		Kind:      chat.KindText,
	}
	if draft.IsImageSearch() {
		msg.Kind = chat.KindImage
		if msg.Content == "" {
			msg.Content = imagePlaceholder
		}
	}
	return msg
}

func (c *Conversation) assistantMessage(reply chat.Reply) chat.Message {
	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   reply.Content,
		Timestamp: c.now(),
		Kind:      chat.KindText,
	}
	if reply.Kind == chat.ReplyProducts && len(reply.ProductIDs) > 0 {
		msg.ReferencedProductIDs = append([]string(nil), reply.ProductIDs...)
		msg.Kind = chat.KindProducts
	}
	return msg
}

// Subscribe registers a listener. Events are dropped for a subscriber whose buffer is
// full. The channel is closed by the returned cancel func or by Close.
func (c *Conversation) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subscribers[ch]; ok {
				delete(c.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (c *Conversation) publishMessageLocked(msg chat.Message) {
	clone := msg.Clone()
	c.publishLocked(Event{Type: EventMessage, Message: &clone})
}

func (c *Conversation) publishLocked(evt Event) {
	evt.SessionID = c.id
	for ch := range c.subscribers {
		select {
		case ch <- evt:
		default:
			c.log.WithField("event", evt.Type).Debug("subscriber buffer full, dropping event")
		}
	}
}

// Close tears the conversation down. Completions arriving afterwards are ignored.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	for ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
	c.mu.Unlock()

	c.wg.Wait()
}
