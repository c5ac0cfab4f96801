package ai

import (
	"strings"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
)

type modelPayload struct {
	Reply      string   `json:"reply"`
	ProductIDs []string `json:"productIds"`
}

// ParseModelReply extracts {reply, productIds} from the model output. Output without a usable
// JSON object is returned as plain text.
func ParseModelReply(content string) chat.Reply {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return chat.TextReply(trimmed)
	}

	var payload modelPayload
	if err := sonic.UnmarshalString(trimmed[start:end+1], &payload); err != nil {
		return chat.TextReply(trimmed)
	}

	ids := make([]string, 0, len(payload.ProductIDs))
	for _, id := range payload.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return chat.ProductsReply(strings.TrimSpace(payload.Reply), ids)
}

const shoppingAssistantPrompt = "You are the shopping assistant of an online store. Answer briefly and helpfully.\n" +
	"Respond with exactly one JSON object: {\"reply\": string, \"productIds\": [string]}.\n" +
	"Only list product ids you were given by the user or the store; use an empty list otherwise. " +
	"Never describe product details inside productIds and never output text outside the JSON object."
