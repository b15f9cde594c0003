package transcript

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 提供基于内存的 Store 实现。
// 进程退出即丢失，适用于测试与 `--store memory` 的临时会话。
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*memorySession
	lastSession time.Time
	now         func() time.Time
}

type memorySession struct {
	session  Session
	messages []Message
}

// NewMemoryStore 创建内存存储实例。
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      o.now,
	}
}

// CreateSession 分配新的会话记录。
func (s *MemoryStore) CreateSession(ctx context.Context, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.Must(uuid.NewV7()).String()
	s.lastSession = NextTimestamp(s.lastSession, s.now())
	s.sessions[id] = &memorySession{
		session: Session{ID: id, Model: model, CreatedAt: s.lastSession},
	}
	return id, nil
}

// GetSession 返回会话记录。
func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.session, nil
}

// AppendMessage 追加一条消息，时间戳严格晚于该会话的上一条消息。
func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, role Role, content string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var prev time.Time
	if n := len(sess.messages); n > 0 {
		prev = sess.messages[n-1].CreatedAt
	}
	msg := Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: NextTimestamp(prev, s.now()),
	}
	sess.messages = append(sess.messages, msg)
	return msg, nil
}

// ListSessions 按创建时间倒序返回会话摘要。
func (s *MemoryStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		title := DefaultTitle
		if len(sess.messages) > 0 {
			title = PreviewTitle(sess.messages[0].Content)
		}
		out = append(out, SessionSummary{
			ID:        sess.session.ID,
			Model:     sess.session.Model,
			CreatedAt: sess.session.CreatedAt,
			Title:     title,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListMessages 返回会话消息序列。每次迭代都会重新读取当前快照。
func (s *MemoryStore) ListMessages(ctx context.Context, sessionID string) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		s.mu.RLock()
		sess, ok := s.sessions[sessionID]
		var msgs []Message
		if ok {
			msgs = slices.Clone(sess.messages)
		}
		s.mu.RUnlock()

		if !ok {
			yield(Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
			return
		}
		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				yield(Message{}, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Close 实现 Store 接口，内存存储无需释放资源。
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
