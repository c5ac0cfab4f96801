package prompt

// QuickPrompt is a starter question offered on an empty chat view.
type QuickPrompt struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Seed provides the default starter prompts shown by the assistant page.
func Seed() []QuickPrompt {
	return []QuickPrompt{
		{
			ID:    "gift-ideas",
			Label: "Gift ideas",
			Text:  "Suggest a few gift ideas under $50 for someone who loves cooking.",
		},
		{
			ID:    "running-shoes",
			Label: "Running shoes",
			Text:  "Show me lightweight running shoes with good ratings.",
		},
		{
			ID:    "deals",
			Label: "Today's deals",
			Text:  "Which products are currently discounted?",
		},
		{
			ID:    "compare",
			Label: "Compare products",
			Text:  "Help me compare two laptops for programming.",
		},
	}
}
