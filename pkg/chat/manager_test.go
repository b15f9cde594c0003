package chat

import (
	"context"
	"testing"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

func TestManagerGenerationGuards(t *testing.T) {
	m := NewManager(transcript.NewMemoryStore())
	if m.State() != StateEmpty || m.State().String() != "empty" {
		t.Fatalf("new manager state = %v", m.State())
	}

	_, gen := m.snapshot()
	if !m.adopt(gen, "s1", "gpt-4o") {
		t.Fatalf("adopt failed")
	}
	if m.adopt(gen, "s2", "gpt-4o") {
		t.Fatalf("adopt replaced an active session")
	}
	if !m.push(gen, transcript.Message{Content: "a"}) {
		t.Fatalf("push failed")
	}

	m.StartNew()
	if m.push(gen, transcript.Message{Content: "stale"}) {
		t.Fatalf("push accepted after StartNew")
	}
	if _, ok := m.history(gen); ok {
		t.Fatalf("history returned for a stale generation")
	}
	if m.CurrentSessionID() != "" || len(m.CurrentBuffer()) != 0 {
		t.Fatalf("StartNew left state behind")
	}
}

func TestManagerBufferIsCopy(t *testing.T) {
	ctx := context.Background()
	store := transcript.NewMemoryStore()
	id, _ := store.CreateSession(ctx, "gpt-4o-mini")
	_, _ = store.AppendMessage(ctx, id, transcript.RoleHuman, "Hi")

	m := NewManager(store)
	if err := m.Resume(ctx, id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	buf := m.CurrentBuffer()
	buf[0].Content = "changed"
	if m.CurrentBuffer()[0].Content != "Hi" {
		t.Fatalf("CurrentBuffer shares storage")
	}
	if m.State().String() != "active" {
		t.Fatalf("state = %v", m.State())
	}
}
