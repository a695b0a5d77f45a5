package cache

import "testing"

func TestConversationMemory_AppendAndWindow(t *testing.T) {
	m := NewConversationMemory[string](3)

	m.Append("conv-1", "hello")
	m.Append("conv-1", "hi there")

	got := m.Window("conv-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0] != "hello" || got[1] != "hi there" {
		t.Fatalf("unexpected window contents: %v", got)
	}
}

func TestConversationMemory_DropsOldestBeyondWindow(t *testing.T) {
	m := NewConversationMemory[string](2)

	m.Append("conv-1", "one")
	m.Append("conv-1", "two")
	m.Append("conv-1", "three")

	got := m.Window("conv-1")
	if len(got) != 2 {
		t.Fatalf("expected window bound of 2, got %d", len(got))
	}
	if got[0] != "two" || got[1] != "three" {
		t.Fatalf("expected oldest entry dropped, got %v", got)
	}
}

func TestConversationMemory_IsolatedPerConversation(t *testing.T) {
	m := NewConversationMemory[string](5)

	m.Append("conv-a", "a1")
	m.Append("conv-b", "b1")

	if got := m.Window("conv-a"); len(got) != 1 || got[0] != "a1" {
		t.Fatalf("conv-a window corrupted: %v", got)
	}
	if got := m.Window("conv-b"); len(got) != 1 || got[0] != "b1" {
		t.Fatalf("conv-b window corrupted: %v", got)
	}
}

func TestConversationMemory_WindowOnUnknownConversationIsEmpty(t *testing.T) {
	m := NewConversationMemory[string](4)

	got := m.Window("missing")
	if len(got) != 0 {
		t.Fatalf("expected empty window, got %v", got)
	}
}

func TestConversationMemory_Clear(t *testing.T) {
	m := NewConversationMemory[string](4)

	m.Append("conv-1", "one")
	m.Clear("conv-1")

	if got := m.Window("conv-1"); len(got) != 0 {
		t.Fatalf("expected cleared window, got %v", got)
	}
}

func TestConversationMemory_DefaultsWindowWhenNonPositive(t *testing.T) {
	m := NewConversationMemory[int](0)
	for i := 0; i < 10; i++ {
		m.Append("conv-1", i)
	}
	if got := len(m.Window("conv-1")); got != 6 {
		t.Fatalf("expected default window of 6, got %d", got)
	}
}
