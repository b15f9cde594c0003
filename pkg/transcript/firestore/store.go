// Package firestore 基于 Cloud Firestore 实现 transcript.Store。
//
// 文档布局：
//
//	chat_sessions/{id}            {timestamp, model}
//	chat_sessions/{id}/messages/* {role, content, timestamp}
//
// 会话时间戳由服务端分配；消息时间戳在追加事务内分配，保证同一会话内严格递增。
package firestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

const (
	sessionsCollection = "chat_sessions"
	messagesCollection = "messages"
	timestampField     = "timestamp"
)

type sessionDoc struct {
	Timestamp time.Time `firestore:"timestamp"`
	Model     string    `firestore:"model"`
}

type messageDoc struct {
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	Timestamp time.Time `firestore:"timestamp"`
}

// Store 是基于 Firestore 客户端的 transcript.Store。
type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// New 使用服务账号凭据连接 Firestore。
// projectID 为空时由客户端从凭据中推断。
func New(ctx context.Context, projectID string, credentialsJSON []byte) (*Store, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: firestore client: %v", transcript.ErrStoreUnavailable, err)
	}
	return NewWithClient(client), nil
}

// NewWithClient 包装已有客户端，例如指向模拟器的客户端。
func NewWithClient(client *firestore.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func (s *Store) sessions() *firestore.CollectionRef {
	return s.client.Collection(sessionsCollection)
}

func (s *Store) messages(sessionID string) *firestore.CollectionRef {
	return s.sessions().Doc(sessionID).Collection(messagesCollection)
}

// CreateSession 写入会话文档，时间戳由服务端分配。
func (s *Store) CreateSession(ctx context.Context, model string) (string, error) {
	ref := s.sessions().NewDoc()
	_, err := ref.Set(ctx, map[string]interface{}{
		timestampField: firestore.ServerTimestamp,
		"model":        model,
	})
	if err != nil {
		return "", classify("create session", err)
	}
	return ref.ID, nil
}

// GetSession 读取一个会话文档。
func (s *Store) GetSession(ctx context.Context, sessionID string) (transcript.Session, error) {
	doc, err := s.sessions().Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return transcript.Session{}, fmt.Errorf("%w: %s", transcript.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return transcript.Session{}, classify("get session", err)
	}
	var rec sessionDoc
	if err := doc.DataTo(&rec); err != nil {
		return transcript.Session{}, fmt.Errorf("%w: session %s: %v", transcript.ErrStoreCorrupt, sessionID, err)
	}
	return transcript.Session{ID: sessionID, Model: rec.Model, CreatedAt: rec.Timestamp}, nil
}

// AppendMessage 在事务内追加消息：先确认会话文档存在，再读取最后一条消息的时间戳，
// 新消息的时间戳严格晚于它。会话不存在时返回 ErrSessionNotFound，不会留下孤立的子集合。
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role transcript.Role, content string) (transcript.Message, error) {
	sessionRef := s.sessions().Doc(sessionID)
	var msg transcript.Message
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(sessionRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", transcript.ErrSessionNotFound, sessionID)
			}
			return err
		}
		last, err := tx.Documents(s.messages(sessionID).OrderBy(timestampField, firestore.Desc).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		var prev time.Time
		if len(last) > 0 {
			prevMsg, err := decodeMessage(sessionID, last[0])
			if err != nil {
				return err
			}
			prev = prevMsg.CreatedAt
		}

		// Firestore 时间戳精度为微秒。
		msg = transcript.Message{
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			CreatedAt: transcript.NextTimestamp(prev, s.now().Truncate(time.Microsecond)),
		}
		return tx.Create(s.messages(sessionID).NewDoc(), messageDoc{
			Role:      string(role),
			Content:   content,
			Timestamp: msg.CreatedAt,
		})
	})
	if err != nil {
		if errors.Is(err, transcript.ErrSessionNotFound) || errors.Is(err, transcript.ErrStoreCorrupt) {
			return transcript.Message{}, err
		}
		return transcript.Message{}, classify("append message", err)
	}
	return msg, nil
}

// ListSessions 按时间倒序遍历会话，每个会话用 limit 1 查询取得标题。
func (s *Store) ListSessions(ctx context.Context) ([]transcript.SessionSummary, error) {
	it := s.sessions().OrderBy(timestampField, firestore.Desc).Documents(ctx)
	defer it.Stop()

	var out []transcript.SessionSummary
	for {
		doc, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list sessions", err)
		}

		summary := transcript.SessionSummary{ID: doc.Ref.ID, Title: transcript.DefaultTitle}
		var rec sessionDoc
		if err := doc.DataTo(&rec); err != nil {
			summary.Err = fmt.Errorf("%w: session %s: %v", transcript.ErrStoreCorrupt, doc.Ref.ID, err)
			out = append(out, summary)
			continue
		}
		summary.Model = rec.Model
		summary.CreatedAt = rec.Timestamp

		title, err := s.firstTitle(ctx, doc.Ref.ID)
		switch {
		case errors.Is(err, transcript.ErrStoreCorrupt):
			summary.Err = err
		case err != nil:
			return nil, err
		default:
			summary.Title = title
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *Store) firstTitle(ctx context.Context, sessionID string) (string, error) {
	docs, err := s.messages(sessionID).OrderBy(timestampField, firestore.Asc).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", classify("first message", err)
	}
	if len(docs) == 0 {
		return transcript.DefaultTitle, nil
	}
	msg, err := decodeMessage(sessionID, docs[0])
	if err != nil {
		return "", err
	}
	return transcript.PreviewTitle(msg.Content), nil
}

// ListMessages 按时间正序流式返回会话消息。会话不存在时返回 ErrSessionNotFound。
func (s *Store) ListMessages(ctx context.Context, sessionID string) iter.Seq2[transcript.Message, error] {
	return func(yield func(transcript.Message, error) bool) {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			yield(transcript.Message{}, err)
			return
		}

		it := s.messages(sessionID).OrderBy(timestampField, firestore.Asc).Documents(ctx)
		defer it.Stop()

		for {
			doc, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(transcript.Message{}, classify("list messages", err))
				return
			}
			msg, err := decodeMessage(sessionID, doc)
			if err != nil {
				yield(transcript.Message{}, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Close 关闭底层客户端。
func (s *Store) Close() error {
	return s.client.Close()
}

func decodeMessage(sessionID string, doc *firestore.DocumentSnapshot) (transcript.Message, error) {
	var rec messageDoc
	if err := doc.DataTo(&rec); err != nil {
		return transcript.Message{}, fmt.Errorf("%w: message %s/%s: %v", transcript.ErrStoreCorrupt, sessionID, doc.Ref.ID, err)
	}
	role, err := transcript.ParseRole(rec.Role)
	if err != nil {
		return transcript.Message{}, fmt.Errorf("message %s/%s: %w", sessionID, doc.Ref.ID, err)
	}
	return transcript.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   rec.Content,
		CreatedAt: rec.Timestamp,
	}, nil
}

// classify 将客户端错误映射到 transcript 的错误分类。
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("firestore: %s: %w", op, err)
	}
	switch status.Code(err) {
	case codes.DataLoss, codes.FailedPrecondition:
		return fmt.Errorf("%w: firestore: %s: %v", transcript.ErrStoreCorrupt, op, err)
	default:
		return fmt.Errorf("%w: firestore: %s: %v", transcript.ErrStoreUnavailable, op, err)
	}
}

var _ transcript.Store = (*Store)(nil)
