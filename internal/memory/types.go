// Package memory is the per-user rolling conversation history, keyed
// by (business, external user id).
package memory

import (
	"time"

	"github.com/repliahq/replia/internal/provider"
)

// Entry is one conversation turn: what the user said and what the bot
// answered.
type Entry struct {
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	Timestamp time.Time `json:"timestamp"`
}

// Window returns the most recent n entries. Callers must window the
// history before injecting it into a provider call to bound prompt
// size.
func Window(entries []Entry, n int) []Entry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// ToMessages flattens entries into the alternating user/assistant
// sequence providers expect.
func ToMessages(entries []Entry) []provider.Message {
	messages := make([]provider.Message, 0, len(entries)*2)
	for _, entry := range entries {
		if entry.User != "" {
			messages = append(messages, provider.Message{Role: "user", Content: entry.User})
		}
		if entry.Bot != "" {
			messages = append(messages, provider.Message{Role: "assistant", Content: entry.Bot})
		}
	}
	return messages
}
