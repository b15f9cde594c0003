package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), transcript.ErrStoreUnavailable},
		{"permission", status.Error(codes.PermissionDenied, "nope"), transcript.ErrStoreUnavailable},
		{"data loss", status.Error(codes.DataLoss, "bad"), transcript.ErrStoreCorrupt},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestStoreAgainstEmulator 仅在设置了 FIRESTORE_EMULATOR_HOST 时运行。
func TestStoreAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "imbotchat-test")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	store := NewWithClient(client)
	defer store.Close()

	id, err := store.CreateSession(ctx, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	var appended []transcript.Message
	for i, role := range []transcript.Role{transcript.RoleHuman, transcript.RoleAssistant} {
		msg, err := store.AppendMessage(ctx, id, role, fmt.Sprintf("m%d", i))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		appended = append(appended, msg)
	}

	msgs, err := transcript.Collect(store.ListMessages(ctx, id))
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != transcript.RoleHuman || msgs[1].Role != transcript.RoleAssistant {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	for i := range msgs {
		if !msgs[i].CreatedAt.Equal(appended[i].CreatedAt) {
			t.Errorf("message %d: returned %v, stored %v", i, appended[i].CreatedAt, msgs[i].CreatedAt)
		}
	}
	if !msgs[1].CreatedAt.After(msgs[0].CreatedAt) {
		t.Errorf("timestamps not increasing: %v, %v", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}

	// 向不存在的会话追加会被拒绝，也不会产生孤立消息。
	if _, err := store.AppendMessage(ctx, "missing", transcript.RoleHuman, "x"); !errors.Is(err, transcript.ErrSessionNotFound) {
		t.Fatalf("append to missing session: %v", err)
	}
	orphans, err := store.messages("missing").Documents(ctx).GetAll()
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphan messages: %d, %v", len(orphans), err)
	}
	if _, err := transcript.Collect(store.ListMessages(ctx, "missing")); !errors.Is(err, transcript.ErrSessionNotFound) {
		t.Fatalf("list missing session: %v", err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	found := false
	for _, s := range sessions {
		if s.ID == id {
			found = true
			if s.Title != "m0" || s.Model != "gpt-4o-mini" {
				t.Errorf("summary = %+v", s)
			}
		}
	}
	if !found {
		t.Fatalf("session %s not listed", id)
	}
}
