package cache

import "sync"

// ConversationMemory holds a bounded rolling window of recent turns per
// conversation (C8). Entries are generic ([]byte-free) so callers supply
// their own turn representation; the window itself never grows past N.
type ConversationMemory[T any] struct {
	mu      sync.Mutex
	window  int
	entries map[string][]T
}

// NewConversationMemory creates a ConversationMemory bounded to window
// entries per conversation.
func NewConversationMemory[T any](window int) *ConversationMemory[T] {
	if window <= 0 {
		window = 6
	}
	return &ConversationMemory[T]{
		window:  window,
		entries: make(map[string][]T),
	}
}

// Append adds an entry to a conversation's window, dropping the oldest
// entry once the window is full.
func (m *ConversationMemory[T]) Append(conversationID string, entry T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.entries[conversationID], entry)
	if len(entries) > m.window {
		entries = entries[len(entries)-m.window:]
	}
	m.entries[conversationID] = entries
}

// Window returns a copy of the current entries for a conversation, oldest
// first.
func (m *ConversationMemory[T]) Window(conversationID string) []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.entries[conversationID]
	out := make([]T, len(entries))
	copy(out, entries)
	return out
}

// Clear removes a conversation's window entirely.
func (m *ConversationMemory[T]) Clear(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, conversationID)
}
