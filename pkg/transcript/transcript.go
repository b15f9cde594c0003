// Package transcript 定义聊天会话及其只追加消息日志的持久化契约，并提供进程内实现。
//
// Store 负责分配会话 ID、以存储端分配的时间戳追加不可变消息，并按追加顺序回放：
//
//	id, err := store.CreateSession(ctx, "gpt-4o-mini")
//	msg, err := store.AppendMessage(ctx, id, transcript.RoleHuman, "Hello")
//	msgs, err := transcript.Collect(store.ListMessages(ctx, id))
package transcript

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// Role 标识消息作者，取值即写入存储的名称。
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// ParseRole 将存储中的角色名转换为 Role。
// 未知名称按 ErrStoreCorrupt 报告。
func ParseRole(name string) (Role, error) {
	switch Role(name) {
	case RoleHuman, RoleAssistant:
		return Role(name), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrStoreCorrupt, name)
	}
}

// Session 表示一条会话记录。
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"timestamp"`
}

// Message 是会话日志中的一条不可变记录。
type Message struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// SessionSummary 是会话的列表视图。
// 会话记录无法解码时设置 Err，列表其余部分仍可使用。
type SessionSummary struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"timestamp"`
	Title     string    `json:"title"`
	Err       error     `json:"-"`
}

// Store 持久化会话及其消息。
// 实现必须支持并发调用。
type Store interface {
	// CreateSession 为给定模型标识创建会话记录并返回其 ID。
	CreateSession(ctx context.Context, model string) (string, error)

	// GetSession 返回会话记录，不存在时返回 ErrSessionNotFound。
	GetSession(ctx context.Context, sessionID string) (Session, error)

	// AppendMessage 追加一条消息，顺序位于该会话此前所有消息之后。
	// 返回实际落盘的消息，CreatedAt 为存储端分配的时间戳。
	AppendMessage(ctx context.Context, sessionID string, role Role, content string) (Message, error)

	// ListSessions 按创建时间倒序返回全部会话。
	ListSessions(ctx context.Context) ([]SessionSummary, error)

	// ListMessages 按时间正序返回会话消息。
	// 序列是惰性的，可以多次遍历，每次遍历都会重新读取存储。
	ListMessages(ctx context.Context, sessionID string) iter.Seq2[Message, error]

	// Close 释放存储占用的资源。
	Close() error
}

// Collect 读完消息序列，遇到第一个错误即停止。
func Collect(seq iter.Seq2[Message, error]) ([]Message, error) {
	var out []Message
	for msg, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// NextTimestamp 返回 now；当时钟未越过 prev 时返回 prev 之后的最小步长。
// 各存储实现用它保证同一会话内的时间戳严格递增。
func NextTimestamp(prev, now time.Time) time.Time {
	now = now.UTC().Round(0)
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
