package chat

// ReplyKind tags the shape of an assistant reply.
type ReplyKind string

const (
	ReplyText     ReplyKind = "text"
	ReplyProducts ReplyKind = "products"
)

// Reply is the typed result of one assistant request.
type Reply struct {
	Kind       ReplyKind `json:"kind"`
	Content    string    `json:"content,omitempty"`
	ProductIDs []string  `json:"productIds,omitempty"`
}

// TextReply builds a plain text reply.
func TextReply(content string) Reply {
	return Reply{Kind: ReplyText, Content: content}
}

// ProductsReply builds a reply referencing catalog products. An empty id list degrades to text.
func ProductsReply(content string, ids []string) Reply {
	if len(ids) == 0 {
		return TextReply(content)
	}
	return Reply{Kind: ReplyProducts, Content: content, ProductIDs: append([]string(nil), ids...)}
}
