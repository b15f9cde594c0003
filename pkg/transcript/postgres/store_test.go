package postgres

import (
	"context"
	"errors"
	"os"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations embedded")
	}
	for i, m := range migrations {
		if m.Up == "" || m.Down == "" {
			t.Errorf("migration %s missing up or down", m.Name)
		}
		if len(m.Checksum) != 64 {
			t.Errorf("migration %s checksum %q", m.Name, m.Checksum)
		}
		if i > 0 && migrations[i-1].Name >= m.Name {
			t.Errorf("migrations not sorted: %s before %s", migrations[i-1].Name, m.Name)
		}
	}
	if !strings.Contains(migrations[0].Up, "chat_messages") {
		t.Errorf("first migration does not create chat_messages")
	}
}

// TestPGStore 仅在设置了 IMBOTCHAT_TEST_DATABASE_URL 时运行。
func TestPGStore(t *testing.T) {
	url := os.Getenv("IMBOTCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IMBOTCHAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id, err := store.CreateSession(ctx, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess, err := store.GetSession(ctx, id); err != nil || sess.Model != "gpt-4o-mini" {
		t.Fatalf("get session: %+v, %v", sess, err)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, transcript.ErrSessionNotFound) {
		t.Fatalf("get missing session: %v", err)
	}
	if _, err := store.AppendMessage(ctx, id, transcript.RoleHuman, "Hello"); err != nil {
		t.Fatalf("append human: %v", err)
	}
	if _, err := store.AppendMessage(ctx, id, transcript.RoleAssistant, "Hi!"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := transcript.Collect(store.ListMessages(ctx, id))
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "Hello" || msgs[1].Role != transcript.RoleAssistant {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if !msgs[1].CreatedAt.After(msgs[0].CreatedAt) {
		t.Fatalf("timestamps not increasing: %v %v", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}

	if _, err := store.AppendMessage(ctx, "missing", transcript.RoleHuman, "x"); !errors.Is(err, transcript.ErrSessionNotFound) {
		t.Fatalf("append to missing session: %v", err)
	}

	status, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status: %v", err)
	}
	for _, rec := range status {
		if !rec.Applied {
			t.Errorf("migration %s not applied", rec.Name)
		}
	}
}

// TestPGStoreConcurrentAppend 验证同一会话的并发追加全部成功且顺序严格递增。
func TestPGStoreConcurrentAppend(t *testing.T) {
	url := os.Getenv("IMBOTCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IMBOTCHAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id, err := store.CreateSession(ctx, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.AppendMessage(ctx, id, transcript.RoleHuman, fmt.Sprintf("msg-%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent append: %v", err)
	}

	msgs, err := transcript.Collect(store.ListMessages(ctx, id))
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("got %d messages, want %d", len(msgs), n)
	}
	seen := make(map[string]bool, n)
	for i, msg := range msgs {
		if seen[msg.Content] {
			t.Errorf("duplicate message %q", msg.Content)
		}
		seen[msg.Content] = true
		if i > 0 && !msg.CreatedAt.After(msgs[i-1].CreatedAt) {
			t.Errorf("message %d: timestamp %v not after %v", i, msg.CreatedAt, msgs[i-1].CreatedAt)
		}
	}
}

func TestPGStoreAppendReturnsStoredTimestamp(t *testing.T) {
	url := os.Getenv("IMBOTCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IMBOTCHAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id, _ := store.CreateSession(ctx, "gpt-4o")
	appended, err := store.AppendMessage(ctx, id, transcript.RoleHuman, "Hello")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	msgs, err := transcript.Collect(store.ListMessages(ctx, id))
	if err != nil || len(msgs) != 1 {
		t.Fatalf("list messages: %+v, %v", msgs, err)
	}
	if !appended.CreatedAt.Equal(msgs[0].CreatedAt) {
		t.Fatalf("returned %v, stored %v", appended.CreatedAt, msgs[0].CreatedAt)
	}
}

// TestPGStoreRollbackLast 会删除聊天表，随后重新迁移恢复。
func TestPGStoreRollbackLast(t *testing.T) {
	url := os.Getenv("IMBOTCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IMBOTCHAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	migrations, _ := loadMigrations()
	latest := migrations[len(migrations)-1].Name
	name, err := store.RollbackLast(ctx)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if name != latest {
		t.Fatalf("rolled back %s, want %s", name, latest)
	}
	status, _ := store.MigrationStatus(ctx)
	for _, rec := range status {
		if rec.Name == latest && rec.Applied {
			t.Fatalf("migration %s still applied", latest)
		}
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if _, err := store.CreateSession(ctx, "gpt-4o"); err != nil {
		t.Fatalf("create session after re-migrate: %v", err)
	}
}
