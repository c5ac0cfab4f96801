package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	"github.com/zhouzirui/shopmate/backend/internal/model/upload"
	"github.com/zhouzirui/shopmate/backend/internal/service/assistant"
)

// ModelTransport answers assistant queries straight from a chat model instead of the
// assistant backend. It is meant for local development against a model provider.
type ModelTransport struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	system string
	log    logrus.FieldLogger
}

// NewModelTransport compiles the system prompt + query chain around chatModel.
func NewModelTransport(ctx context.Context, chatModel model.BaseChatModel, logger logrus.FieldLogger) (*ModelTransport, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile assistant chain: %w", err)
	}

	return &ModelTransport{
		chain:  runnable,
		system: shoppingAssistantPrompt,
		log:    logger.WithField("component", "ai"),
	}, nil
}

// SendMessage runs the chain for a text query. The model keeps no per-session state,
// so sessionID only tags the log entry.
func (t *ModelTransport) SendMessage(ctx context.Context, sessionID, text string) (chat.Reply, error) {
	input := map[string]any{
		"system": t.system,
		"query":  strings.TrimSpace(text),
	}

	response, err := t.chain.Invoke(ctx, input)
	if err != nil {
		return chat.Reply{}, &assistant.TransportError{
			Op:      "send message",
			Message: "the assistant model did not answer, please try again",
			Err:     fmt.Errorf("failed to run assistant chain: %w", err),
		}
	}
	if response == nil {
		return chat.Reply{}, &assistant.TransportError{Op: "send message", Message: "the assistant model returned nothing"}
	}

	reply := ParseModelReply(response.Content)
	t.log.WithFields(logrus.Fields{
		"session":  sessionID,
		"kind":     reply.Kind,
		"products": len(reply.ProductIDs),
		"length":   len(response.Content),
	}).Debug("model reply generated")
	return reply, nil
}

// SendImageQuery is not supported: chat models used here cannot search the catalog by image.
func (t *ModelTransport) SendImageQuery(_ context.Context, _ string, _ upload.File, _ string) (chat.Reply, error) {
	return chat.Reply{}, &assistant.TransportError{
		Op:      "image search",
		Message: "image search is not available in this assistant mode",
	}
}
