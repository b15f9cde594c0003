package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	sessionIndexFile = "sessions.jsonl"
	messagesDir      = "messages"
	maxLineSize      = 5 * 1024 * 1024
)

// storedSession 是 sessions.jsonl 中的一行。
type storedSession struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// storedMessage 是 messages/<id>.jsonl 中的一行。
type storedMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FileStore 实现了基于文件系统的 Store (JSONL 格式)。
// 会话索引写入 sessions.jsonl，每个会话的消息存储在 messages/<id>.jsonl，每行一个 JSON 对象。
type FileStore struct {
	baseDir string
	now     func() time.Time

	mu          sync.RWMutex         // 全局锁，保护文件系统操作并发安全
	known       map[string]bool      // 已知会话 ID
	lastMessage map[string]time.Time // 会话 ID -> 最近一条消息的时间戳（懒加载）
	lastSession time.Time
}

// NewFileStore 创建一个新的 FileStore。
// baseDir: 存储会话记录的目录路径，不存在时自动创建。
func NewFileStore(baseDir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, messagesDir), 0755); err != nil {
		return nil, fmt.Errorf("%w: create transcript directory: %v", ErrStoreUnavailable, err)
	}
	o := applyOptions(opts)
	s := &FileStore{
		baseDir:     baseDir,
		now:         o.now,
		known:       make(map[string]bool),
		lastMessage: make(map[string]time.Time),
	}

	// 预加载会话索引；坏行在 ListSessions 中单独上报，这里跳过。
	err := scanLines(s.indexPath(), func(_ int, line []byte) error {
		var rec storedSession
		if json.Unmarshal(line, &rec) != nil || rec.ID == "" {
			return nil
		}
		s.known[rec.ID] = true
		if rec.Timestamp.After(s.lastSession) {
			s.lastSession = rec.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.baseDir, sessionIndexFile)
}

// messagePath 返回指定 SessionID 的文件路径。
// 对 SessionID 进行简单的清理以防路径遍历。
func (s *FileStore) messagePath(sessionID string) string {
	safeID := filepath.Base(sessionID)
	return filepath.Join(s.baseDir, messagesDir, safeID+".jsonl")
}

// CreateSession 追加一条会话索引记录。
func (s *FileStore) CreateSession(ctx context.Context, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := storedSession{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Model:     model,
		Timestamp: NextTimestamp(s.lastSession, s.now()),
	}
	if err := appendLine(s.indexPath(), rec); err != nil {
		return "", err
	}
	s.lastSession = rec.Timestamp
	s.known[rec.ID] = true
	return rec.ID, nil
}

// GetSession 在会话索引中查找指定会话。
func (s *FileStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.known[sessionID] {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	var (
		found Session
		ok    bool
	)
	err := scanLines(s.indexPath(), func(lineNum int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec storedSession
		if json.Unmarshal(line, &rec) != nil || rec.ID != sessionID {
			return nil
		}
		found, ok = Session{ID: rec.ID, Model: rec.Model, CreatedAt: rec.Timestamp}, true
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return found, nil
}

// AppendMessage 添加消息（追加写入），返回写入的记录。
func (s *FileStore) AppendMessage(ctx context.Context, sessionID string, role Role, content string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known[sessionID] {
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	path := s.messagePath(sessionID)
	prev, ok := s.lastMessage[sessionID]
	if !ok {
		var err error
		if prev, err = lastTimestamp(path); err != nil {
			return Message{}, err
		}
	}

	rec := storedMessage{
		Role:      string(role),
		Content:   content,
		Timestamp: NextTimestamp(prev, s.now()),
	}
	if err := appendLine(path, rec); err != nil {
		return Message{}, err
	}
	s.lastMessage[sessionID] = rec.Timestamp
	return Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: rec.Timestamp,
	}, nil
}

// ListSessions 逐行读取会话索引，并为每个会话读取第一条消息作为标题。
func (s *FileStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SessionSummary
	err := scanLines(s.indexPath(), func(lineNum int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec storedSession
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			out = append(out, SessionSummary{
				Title: DefaultTitle,
				Err:   fmt.Errorf("%w: %s line %d", ErrStoreCorrupt, sessionIndexFile, lineNum),
			})
			return nil
		}

		summary := SessionSummary{
			ID:        rec.ID,
			Model:     rec.Model,
			CreatedAt: rec.Timestamp,
			Title:     DefaultTitle,
		}
		first, found, err := s.firstMessage(rec.ID)
		switch {
		case errors.Is(err, ErrStoreCorrupt):
			summary.Err = err
		case err != nil:
			return err
		case found:
			summary.Title = PreviewTitle(first.Content)
		}
		out = append(out, summary)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// firstMessage 读取会话的第一条消息，相当于 limit 1 的升序查询。
func (s *FileStore) firstMessage(sessionID string) (Message, bool, error) {
	var (
		first Message
		found bool
	)
	errStop := errors.New("stop")
	err := scanLines(s.messagePath(sessionID), func(lineNum int, line []byte) error {
		msg, err := decodeMessage(sessionID, lineNum, line)
		if err != nil {
			return err
		}
		first, found = msg, true
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return Message{}, false, err
	}
	return first, found, nil
}

// ListMessages 逐行读取文件获取消息序列。坏行以 ErrStoreCorrupt 上报。
func (s *FileStore) ListMessages(ctx context.Context, sessionID string) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		s.mu.RLock()
		known := s.known[sessionID]
		s.mu.RUnlock()
		if !known {
			yield(Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
			return
		}

		s.mu.RLock()
		var msgs []Message
		err := scanLines(s.messagePath(sessionID), func(lineNum int, line []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			msg, err := decodeMessage(sessionID, lineNum, line)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
			return nil
		})
		s.mu.RUnlock()

		for _, msg := range msgs {
			if !yield(msg, nil) {
				return
			}
		}
		if err != nil {
			yield(Message{}, err)
		}
	}
}

// Close 实现 Store 接口。
func (s *FileStore) Close() error {
	return nil
}

func decodeMessage(sessionID string, lineNum int, line []byte) (Message, error) {
	var rec storedMessage
	if err := json.Unmarshal(line, &rec); err != nil {
		return Message{}, fmt.Errorf("%w: session %s line %d: %v", ErrStoreCorrupt, sessionID, lineNum, err)
	}
	role, err := ParseRole(rec.Role)
	if err != nil {
		return Message{}, fmt.Errorf("session %s line %d: %w", sessionID, lineNum, err)
	}
	return Message{
		SessionID: sessionID,
		Role:      role,
		Content:   rec.Content,
		CreatedAt: rec.Timestamp,
	}, nil
}

// lastTimestamp 返回消息文件中最后一条可解析记录的时间戳。
func lastTimestamp(path string) (time.Time, error) {
	var last time.Time
	err := scanLines(path, func(_ int, line []byte) error {
		var rec storedMessage
		if json.Unmarshal(line, &rec) == nil && rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
		return nil
	})
	return last, err
}

// appendLine 追加一行 JSON 记录到文件
func appendLine(path string, v any) error {
	// 以追加模式打开文件，如果不存在则创建
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	// json.Encoder 默认会在末尾加 \n，符合 JSONL 规范
	encoder := json.NewEncoder(f)
	encoder.SetEscapeHTML(false) // 保持原始字符，不转义 <, >, &
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// scanLines 逐行回调非空行；文件不存在视为空文件。
func scanLines(path string, fn func(lineNum int, line []byte) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// 增加 Buffer 大小以支持超长单行（默认 64KB 可能不够）
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNum, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: scanning %s: %v", ErrStoreUnavailable, filepath.Base(path), err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
