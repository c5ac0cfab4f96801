package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/service/attachment"
	"github.com/zhouzirui/shopmate/backend/internal/service/composer"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// HistoryLoader fetches the stored transcript of a backend session.
type HistoryLoader interface {
	History(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Thread pairs an open conversation with the composer feeding it.
type Thread struct {
	*Conversation
	Composer *composer.Composer
}

// ServiceOptions wires the collaborators shared by every conversation.
type ServiceOptions struct {
	Transport Transport
	Resolver  ProductResolver
	History   HistoryLoader
	Notifier  Notifier
	Validator attachment.Validator
	Logger    logrus.FieldLogger
}

// Service keeps one conversation per open chat session.
type Service struct {
	opts ServiceOptions
	log  logrus.FieldLogger

	mu      sync.RWMutex
	threads map[string]*Thread
}

// NewService bootstraps the in-memory conversation registry.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Transport == nil {
		return nil, errors.New("assistant transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		opts:    opts,
		log:     opts.Logger.WithField("component", "chat"),
		threads: make(map[string]*Thread),
	}, nil
}

// Open returns the conversation of sessionID, creating it from the stored history on
// first use.
func (s *Service) Open(ctx context.Context, sessionID string) (*Thread, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if thread, err := s.Get(sessionID); err == nil {
		return thread, nil
	}

	var history []chat.Message
	if s.opts.History != nil {
		loaded, err := s.opts.History.History(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load history of %s: %w", sessionID, err)
		}
		history = loaded
	}

	conv, err := NewConversation(Options{
		SessionID: sessionID,
		Transport: s.opts.Transport,
		Resolver:  s.opts.Resolver,
		Notifier:  s.opts.Notifier,
		Logger:    s.opts.Logger,
		History:   history,
	})
	if err != nil {
		return nil, err
	}
	thread := &Thread{
		Conversation: conv,
		Composer:     composer.New(conv, s.opts.Validator),
	}

	s.mu.Lock()
	if existing, ok := s.threads[sessionID]; ok {
		s.mu.Unlock()
		conv.Close()
		return existing, nil
	}
	s.threads[sessionID] = thread
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"session": sessionID, "history": len(history)}).Info("conversation opened")
	return thread, nil
}

// Get returns an already open conversation.
func (s *Service) Get(sessionID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return thread, nil
}

// Close tears down one conversation; in-flight completions are ignored.
func (s *Service) Close(sessionID string) error {
	s.mu.Lock()
	thread, ok := s.threads[sessionID]
	delete(s.threads, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	thread.Close()
	s.log.WithField("session", sessionID).Info("conversation closed")
	return nil
}

// CloseAll tears down every open conversation, used on shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	threads := s.threads
	s.threads = make(map[string]*Thread)
	s.mu.Unlock()

	for _, thread := range threads {
		thread.Close()
	}
}
