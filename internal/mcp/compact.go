package mcp

import "github.com/ashita-ai/agentrelay/internal/model"

// previewLen is how many runes of a message body list results carry.
const previewLen = 280

// compactMessage is the list form of a message: the body is truncated and
// unset fields are dropped. Full bodies come from the conversation tool.
func compactMessage(m model.Message) map[string]any {
	out := map[string]any{
		"id":        m.ID,
		"from":      m.From,
		"to":        m.To,
		"type":      m.Type,
		"status":    m.Status,
		"timestamp": m.Timestamp,
		"content":   truncate(m.Content, previewLen),
	}
	if m.UpdatedAt != nil {
		out["updatedAt"] = *m.UpdatedAt
	}
	return out
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
