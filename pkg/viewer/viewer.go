// Package viewer 渲染已存储的会话供阅读，所有时间戳都转换到显示时区。
package viewer

import (
	"context"
	"fmt"
	"time"

	// 容器镜像可能没有系统时区库
	_ "time/tzdata"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

const (
	// DefaultZone 是未另行配置时的显示时区。
	DefaultZone = "Asia/Tokyo"
	// ListLayout 是会话列表中的时间格式。
	ListLayout = "01/02 15:04"
	// DetailLayout 是会话详情中的时间格式。
	DetailLayout = "2006/01/02 15:04:05"
	// UnknownModel 在会话未记录模型时显示。
	UnknownModel = "Unknown"
)

// SessionView 是会话列表中的一行。
type SessionView struct {
	ID        string
	Title     string
	Model     string
	CreatedAt time.Time // 显示时区
	Err       error     // 会话记录无法读取时设置
}

// When 按列表格式输出 CreatedAt。
func (v SessionView) When() string {
	return FormatList(v.CreatedAt)
}

// MessageView 是会话详情中的一条消息。
type MessageView struct {
	Role      transcript.Role
	Content   string
	CreatedAt time.Time // 显示时区
}

// When 按详情格式输出 CreatedAt。
func (v MessageView) When() string {
	return FormatDetail(v.CreatedAt)
}

// Transcript 是一个会话及其按序排列的消息。
type Transcript struct {
	Session  SessionView
	Messages []MessageView
}

// Viewer 从存储读取会话。
type Viewer struct {
	store transcript.Store
	loc   *time.Location
}

// Option 定制 Viewer。
type Option func(*Viewer)

// WithLocation 设置显示时区。
func WithLocation(loc *time.Location) Option {
	return func(v *Viewer) {
		if loc != nil {
			v.loc = loc
		}
	}
}

// New 返回以 DefaultZone 显示时间的 Viewer。
func New(store transcript.Store, opts ...Option) *Viewer {
	v := &Viewer{store: store, loc: defaultLocation()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Location 返回显示时区。
func (v *Viewer) Location() *time.Location {
	return v.loc
}

// Sessions 按时间倒序列出会话。
func (v *Viewer) Sessions(ctx context.Context) ([]SessionView, error) {
	summaries, err := v.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, SessionView{
			ID:        s.ID,
			Title:     s.Title,
			Model:     modelName(s.Model),
			CreatedAt: s.CreatedAt.In(v.loc),
			Err:       s.Err,
		})
	}
	return out, nil
}

// Transcript 加载一个会话及其全部消息。
func (v *Viewer) Transcript(ctx context.Context, sessionID string) (*Transcript, error) {
	sess, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	t := &Transcript{Session: SessionView{
		ID:        sess.ID,
		Title:     transcript.DefaultTitle,
		Model:     modelName(sess.Model),
		CreatedAt: sess.CreatedAt.In(v.loc),
	}}
	for msg, err := range v.store.ListMessages(ctx, sessionID) {
		if err != nil {
			return nil, fmt.Errorf("transcript %s: %w", sessionID, err)
		}
		if len(t.Messages) == 0 {
			t.Session.Title = transcript.PreviewTitle(msg.Content)
		}
		t.Messages = append(t.Messages, MessageView{
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.In(v.loc),
		})
	}
	return t, nil
}

// LoadLocation 解析时区名称，name 为空时回退到 DefaultZone。
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("viewer: time zone %q: %w", name, err)
	}
	return loc, nil
}

// FormatList 以 月/日 时:分 的格式输出 t。
func FormatList(t time.Time) string {
	return t.Format(ListLayout)
}

// FormatDetail 输出带日期与秒的 t。
func FormatDetail(t time.Time) string {
	return t.Format(DetailLayout)
}

func modelName(m string) string {
	if m == "" {
		return UnknownModel
	}
	return m
}

func defaultLocation() *time.Location {
	loc, err := LoadLocation(DefaultZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
