package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/product"
	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
	"github.com/zhouzirui/shopmate/backend/internal/service/assistant"
	chat "github.com/zhouzirui/shopmate/backend/internal/service/chat"
)

type fakeTransport struct {
	mu       sync.Mutex
	sessions []string
	texts    []string
	images   []string
	reply    model.Reply
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeTransport) SendMessage(_ context.Context, sessionID, text string) (model.Reply, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return f.wait()
}

func (f *fakeTransport) SendImageQuery(_ context.Context, sessionID string, image upload.File, text string) (model.Reply, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.images = append(f.images, image.Name+"|"+text)
	f.mu.Unlock()
	return f.wait()
}

func (f *fakeTransport) wait() (model.Reply, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply, f.err
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts) + len(f.images)
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []model.Message
}

func (r *fakeResolver) ResolveMessage(_ context.Context, msg model.Message) []product.Summary {
	r.mu.Lock()
	r.calls = append(r.calls, msg)
	r.mu.Unlock()
	out := make([]product.Summary, 0, len(msg.ReferencedProductIDs))
	for _, id := range msg.ReferencedProductIDs {
		if id == "p2" {
			continue
		}
		out = append(out, product.Summary{ID: id})
	}
	return out
}

type countingNotifier struct {
	mu      sync.Mutex
	notices []chat.Notice
}

func (n *countingNotifier) Notify(_ string, notice chat.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func newConversation(t *testing.T, transport chat.Transport, resolver chat.ProductResolver, notifier chat.Notifier) *chat.Conversation {
	t.Helper()
	logger, _ := test.NewNullLogger()
	conv, err := chat.NewConversation(chat.Options{
		SessionID: "s1",
		Transport: transport,
		Resolver:  resolver,
		Notifier:  notifier,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(conv.Close)
	return conv
}

func nextEvent(t *testing.T, events <-chan chat.Event, want chat.EventType) chat.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event feed closed while waiting for %s", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestSubmitTextReply(t *testing.T) {
	transport := &fakeTransport{reply: model.TextReply("Here are some options")}
	conv := newConversation(t, transport, nil, nil)

	require.NoError(t, conv.Submit(context.Background(), model.Draft{Text: "red shoes"}))

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "red shoes", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Here are some options", msgs[1].Content)
	assert.Empty(t, msgs[1].ReferencedProductIDs)
	assert.Equal(t, chat.StateIdle, conv.State())
}

func TestSubmitProductsReplyResolvesAsync(t *testing.T) {
	transport := &fakeTransport{reply: model.ProductsReply("Try these", []string{"p1", "p2", "p1"})}
	resolver := &fakeResolver{}
	conv := newConversation(t, transport, resolver, nil)
	events, cancel := conv.Subscribe()
	defer cancel()

	require.NoError(t, conv.Submit(context.Background(), model.Draft{Text: "sneakers"}))

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"p1", "p2", "p1"}, msgs[1].ReferencedProductIDs)
	assert.Equal(t, model.KindProducts, msgs[1].Kind)

	evt := nextEvent(t, events, chat.EventProducts)
	assert.Equal(t, msgs[1].ID, evt.MessageID)
	require.Len(t, evt.Products, 2)
	assert.Equal(t, "p1", evt.Products[0].ID)
	assert.Equal(t, "p1", evt.Products[1].ID)

	again, ok := conv.Message(msgs[1].ID)
	require.True(t, ok)
	assert.Equal(t, []string{"p1", "p2", "p1"}, again.ReferencedProductIDs, "resolution never rewrites the message")
}

func TestSubmitImageQuery(t *testing.T) {
	transport := &fakeTransport{reply: model.TextReply("Similar bags")}
	conv := newConversation(t, transport, nil, nil)

	draft := model.Draft{Image: &upload.Attachment{File: upload.File{Name: "bag.png", ContentType: "image/png", Data: []byte{1}}}}
	require.NoError(t, conv.Submit(context.Background(), draft))

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.KindImage, msgs[0].Kind)
	assert.Equal(t, "[image]", msgs[0].Content)
	assert.Equal(t, []string{"bag.png|"}, transport.images)
	assert.Empty(t, transport.texts)
}

func TestSubmitTransportFailure(t *testing.T) {
	transport := &fakeTransport{err: &assistant.TransportError{Op: "send message", StatusCode: 502, Message: "assistant is down"}}
	notifier := &countingNotifier{}
	conv := newConversation(t, transport, nil, notifier)
	events, cancel := conv.Subscribe()
	defer cancel()

	err := conv.Submit(context.Background(), model.Draft{Text: "hello"})
	require.Error(t, err)
	assert.True(t, assistant.IsTransportError(err))

	msgs := conv.Messages()
	require.Len(t, msgs, 1, "user message stays, no assistant message")
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, chat.StateIdle, conv.State())

	evt := nextEvent(t, events, chat.EventNotification)
	assert.Equal(t, "assistant is down", evt.Notice.Message)

	transport.err = nil
	transport.reply = model.TextReply("back again")
	require.NoError(t, conv.Submit(context.Background(), model.Draft{Text: "retry"}))
	assert.Len(t, conv.Messages(), 3)
	assert.Equal(t, 1, notifier.count())
}

func TestSubmitEmptyDraftDoesNothing(t *testing.T) {
	transport := &fakeTransport{}
	conv := newConversation(t, transport, nil, nil)

	require.NoError(t, conv.Submit(context.Background(), model.Draft{Text: "   "}))
	assert.Empty(t, conv.Messages())
	assert.Zero(t, transport.calls())
}

func TestEventOrdering(t *testing.T) {
	transport := &fakeTransport{reply: model.TextReply("ok")}
	conv := newConversation(t, transport, nil, nil)
	events, cancel := conv.Subscribe()
	defer cancel()

	require.NoError(t, conv.Submit(context.Background(), model.Draft{Text: "hi"}))

	var got []string
	for i := 0; i < 4; i++ {
		evt := <-events
		label := string(evt.Type)
		if evt.Message != nil {
			label += ":" + string(evt.Message.Role)
		}
		if evt.State != "" {
			label += ":" + string(evt.State)
		}
		got = append(got, label)
	}
	assert.Equal(t, []string{"message:user", "state:pending", "message:assistant", "state:idle"}, got)
}

func TestPendingStateWhileInFlight(t *testing.T) {
	transport := &fakeTransport{
		reply:   model.TextReply("done"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	conv := newConversation(t, transport, nil, nil)

	done := make(chan error, 1)
	go func() { done <- conv.Submit(context.Background(), model.Draft{Text: "slow"}) }()

	<-transport.started
	assert.Equal(t, chat.StatePending, conv.State())
	require.Len(t, conv.Messages(), 1, "user message is appended before dispatch")

	close(transport.release)
	require.NoError(t, <-done)
	assert.Equal(t, chat.StateIdle, conv.State())
}

func TestCloseIgnoresLateCompletion(t *testing.T) {
	transport := &fakeTransport{
		err:     errors.New("late failure"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	notifier := &countingNotifier{}
	conv := newConversation(t, transport, nil, notifier)
	events, _ := conv.Subscribe()

	done := make(chan error, 1)
	go func() { done <- conv.Submit(context.Background(), model.Draft{Text: "bye"}) }()
	<-transport.started

	conv.Close()
	close(transport.release)

	assert.ErrorIs(t, <-done, chat.ErrConversationClosed)
	assert.Zero(t, notifier.count())
	assert.Len(t, conv.Messages(), 1)

	for range events {
	}
	assert.ErrorIs(t, conv.Submit(context.Background(), model.Draft{Text: "again"}), chat.ErrConversationClosed)
}

func TestSeededHistoryIsCopied(t *testing.T) {
	history := []model.Message{{ID: "h1", Role: model.RoleUser, Content: "old", ReferencedProductIDs: []string{"x"}}}
	logger, _ := test.NewNullLogger()
	conv, err := chat.NewConversation(chat.Options{SessionID: "s", Transport: &fakeTransport{}, Logger: logger, History: history})
	require.NoError(t, err)
	defer conv.Close()

	history[0].ReferencedProductIDs[0] = "mutated"
	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"x"}, msgs[0].ReferencedProductIDs)
}

func TestSubmitTagsRequestsWithSession(t *testing.T) {
	transport := &fakeTransport{reply: model.TextReply("ok")}
	conv := newConversation(t, transport, nil, nil)

	require.NoError(t, conv.Submit(context.Background(), model.Draft{Text: "hello"}))
	draft := model.Draft{Image: &upload.Attachment{File: upload.File{Name: "a.png", ContentType: "image/png", Data: []byte{1}}}}
	require.NoError(t, conv.Submit(context.Background(), draft))

	assert.Equal(t, []string{"s1", "s1"}, transport.sessions)
}

func TestSeededHistoryGetsAddressableIDs(t *testing.T) {
	history := []model.Message{
		{Role: model.RoleUser, Content: "phones"},
		{ID: "dup", Role: model.RoleAssistant, Content: "look", ReferencedProductIDs: []string{"p1"}, Kind: model.KindProducts},
		{ID: "dup", Role: model.RoleUser, Content: "thanks"},
	}
	resolver := &fakeResolver{}
	logger, _ := test.NewNullLogger()
	conv, err := chat.NewConversation(chat.Options{SessionID: "s", Transport: &fakeTransport{}, Resolver: resolver, Logger: logger, History: history})
	require.NoError(t, err)
	defer conv.Close()

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	seen := make(map[string]bool)
	for _, msg := range msgs {
		require.NotEmpty(t, msg.ID)
		assert.False(t, seen[msg.ID], "ids are unique within the log")
		seen[msg.ID] = true
	}
	assert.Equal(t, "dup", msgs[1].ID, "stored ids are kept")

	got, ok := conv.Message(msgs[1].ID)
	require.True(t, ok)
	assert.Equal(t, []string{"p1"}, got.ReferencedProductIDs)
	assert.Empty(t, history[0].ID, "caller's history is not modified")
}
