// Package postgres 基于 pgx 在 PostgreSQL 上实现 transcript.Store。
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

// foreignKeyViolation 是消息引用了不存在的会话时返回的 SQLSTATE。
const foreignKeyViolation = "23503"

// PGStore 是基于 pgx 连接池的 transcript.Store。
type PGStore struct {
	db *pgxpool.Pool
}

// New 包装已有的连接池。
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Connect 按连接串打开连接池。
func Connect(ctx context.Context, databaseURL string) (*PGStore, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: connect: %v", transcript.ErrStoreUnavailable, err)
	}
	return New(db), nil
}

// CreateSession 插入会话行，created_at 由数据库分配。
func (s *PGStore) CreateSession(ctx context.Context, model string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.Exec(ctx, `INSERT INTO chat_sessions (id, model) VALUES ($1, $2)`, id, model)
	if err != nil {
		return "", unavailable("create session", err)
	}
	return id, nil
}

// GetSession 读取一行会话记录。
func (s *PGStore) GetSession(ctx context.Context, sessionID string) (transcript.Session, error) {
	sess := transcript.Session{ID: sessionID}
	err := s.db.QueryRow(ctx,
		`SELECT model, created_at FROM chat_sessions WHERE id = $1`,
		sessionID,
	).Scan(&sess.Model, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return transcript.Session{}, fmt.Errorf("%w: %s", transcript.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return transcript.Session{}, unavailable("get session", err)
	}
	return sess, nil
}

// AppendMessage 在事务内追加一条消息。
// 先以 FOR UPDATE 锁住会话行，同一会话的并发追加因此串行执行，seq 与 created_at 都严格递增。
func (s *PGStore) AppendMessage(ctx context.Context, sessionID string, role transcript.Role, content string) (transcript.Message, error) {
	msg := transcript.Message{SessionID: sessionID, Role: role, Content: content}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", transcript.ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`INSERT INTO chat_messages (session_id, seq, role, content, created_at)
			 SELECT $1,
			        COALESCE(MAX(seq), 0) + 1,
			        $2,
			        $3,
			        GREATEST(clock_timestamp(), COALESCE(MAX(created_at), '-infinity'::timestamptz) + interval '1 microsecond')
			 FROM chat_messages WHERE session_id = $1
			 RETURNING created_at`,
			sessionID, string(role), content,
		).Scan(&msg.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, transcript.ErrSessionNotFound) {
			return transcript.Message{}, err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return transcript.Message{}, fmt.Errorf("%w: %s", transcript.ErrSessionNotFound, sessionID)
		}
		return transcript.Message{}, unavailable("append message", err)
	}
	return msg, nil
}

// ListSessions 按创建时间倒序返回会话，并关联第一条消息作为标题。
func (s *PGStore) ListSessions(ctx context.Context) ([]transcript.SessionSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT s.id, s.model, s.created_at, m.role, m.content
		 FROM chat_sessions s
		 LEFT JOIN LATERAL (
		     SELECT role, content FROM chat_messages
		     WHERE session_id = s.id ORDER BY seq ASC LIMIT 1
		 ) m ON true
		 ORDER BY s.created_at DESC`,
	)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer rows.Close()

	var out []transcript.SessionSummary
	for rows.Next() {
		var (
			summary transcript.SessionSummary
			role    *string
			content *string
		)
		if err := rows.Scan(&summary.ID, &summary.Model, &summary.CreatedAt, &role, &content); err != nil {
			return nil, fmt.Errorf("%w: postgres: scan session: %v", transcript.ErrStoreCorrupt, err)
		}
		summary.Title = transcript.DefaultTitle
		if content != nil {
			if _, err := transcript.ParseRole(*role); err != nil {
				summary.Err = fmt.Errorf("session %s: %w", summary.ID, err)
			} else {
				summary.Title = transcript.PreviewTitle(*content)
			}
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list sessions", err)
	}
	return out, nil
}

// ListMessages 按 seq 顺序流式返回会话消息。
func (s *PGStore) ListMessages(ctx context.Context, sessionID string) iter.Seq2[transcript.Message, error] {
	return func(yield func(transcript.Message, error) bool) {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
			yield(transcript.Message{}, unavailable("list messages", err))
			return
		}
		if !exists {
			yield(transcript.Message{}, fmt.Errorf("%w: %s", transcript.ErrSessionNotFound, sessionID))
			return
		}

		rows, err := s.db.Query(ctx,
			`SELECT role, content, created_at FROM chat_messages
			 WHERE session_id = $1 ORDER BY seq ASC`,
			sessionID,
		)
		if err != nil {
			yield(transcript.Message{}, unavailable("list messages", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				msg  = transcript.Message{SessionID: sessionID}
				role string
			)
			if err := rows.Scan(&role, &msg.Content, &msg.CreatedAt); err != nil {
				yield(transcript.Message{}, fmt.Errorf("%w: postgres: scan message: %v", transcript.ErrStoreCorrupt, err))
				return
			}
			if msg.Role, err = transcript.ParseRole(role); err != nil {
				yield(transcript.Message{}, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(transcript.Message{}, unavailable("list messages", err))
		}
	}
}

// Close 关闭连接池。
func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	return fmt.Errorf("%w: postgres: %s: %v", transcript.ErrStoreUnavailable, op, err)
}

// 编译期确认 PGStore 实现了 transcript.Store。
var _ transcript.Store = (*PGStore)(nil)
