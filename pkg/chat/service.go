// Package chat 驱动对话：持有当前会话与缓冲区，每次针对模型服务执行一轮用户 turn，
// 并保持缓冲区与 transcript 存储一致。
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/IMBotPlatform/IMBotChat/pkg/ai"
	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

const promptLogSnippet = 80

// Resolver 将模型标签解析为 provider，*ai.Registry 实现了该接口。
type Resolver interface {
	Resolve(ctx context.Context, label string) (ai.Provider, ai.ModelConfig, error)
}

// TurnResult 描述一次已完成或部分完成的 turn。
type TurnResult struct {
	SessionID string
	Created   bool // 会话由本次 turn 创建
	Model     ai.ModelConfig
	Reply     string
	Saved     bool // 回复已写入存储
}

// TurnOption 定制单次 turn。
type TurnOption func(*turnOptions)

type turnOptions struct {
	onDelta func(string)
}

// WithDeltas 在回复片段到达时逐段回调。
func WithDeltas(fn func(delta string)) TurnOption {
	return func(o *turnOptions) {
		o.onDelta = fn
	}
}

// Option 定制 Service。
type Option func(*Service)

// WithLogger 注入日志记录器。
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock 设置缓冲区临时时间戳所用的时钟，落盘后替换为存储分配的时间戳。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service 为一个交互界面执行 turn。
type Service struct {
	sessions *Manager
	store    transcript.Store
	resolver Resolver
	logger   *log.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc // turn 运行期间非 nil
}

// NewService 组装存储与 provider 解析器。
func NewService(store transcript.Store, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		sessions: NewManager(store),
		store:    store,
		resolver: resolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sessions 暴露会话管理器供只读访问。
func (s *Service) Sessions() *Manager {
	return s.sessions
}

// StartNew 放弃正在运行的 turn 并回到 Empty 状态。
func (s *Service) StartNew() {
	s.interrupt()
	s.sessions.StartNew()
}

// Resume 放弃正在运行的 turn 并加载 sessionID。
func (s *Service) Resume(ctx context.Context, sessionID string) error {
	s.interrupt()
	return s.sessions.Resume(ctx, sessionID)
}

// Busy 报告是否有 turn 正在运行。
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Service) interrupt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Service) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, ErrTurnInProgress
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return turnCtx, nil
}

func (s *Service) end() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Turn 把 prompt 发送给 modelLabel 对应的 provider。
//
// 调用 provider 之前用户消息已经落盘。回复先进入缓冲区再持久化；
// 持久化失败时仍返回结果，Saved=false，错误包装 ErrReplyNotSaved。
// provider 失败或被取消时只保留用户消息。
// 只要绑定了会话，返回的结果就不为 nil。
func (s *Service) Turn(ctx context.Context, prompt, modelLabel string, opts ...TurnOption) (*TurnResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	var options turnOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.end()

	provider, model, err := s.resolver.Resolve(ctx, modelLabel)
	if err != nil {
		return nil, err
	}

	sessionID, gen := s.sessions.snapshot()
	result := &TurnResult{SessionID: sessionID, Model: model}
	if sessionID == "" {
		id, err := s.store.CreateSession(ctx, model.ModelName)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		if !s.sessions.adopt(gen, id, model.ModelName) {
			s.logf("session %s created after the active session changed", id)
			return nil, ErrSessionChanged
		}
		result.SessionID, result.Created = id, true
		s.logf("session %s created with model %s", id, model.ModelName)
	}

	userMsg := transcript.Message{
		SessionID: result.SessionID,
		Role:      transcript.RoleHuman,
		Content:   prompt,
		CreatedAt: s.now().UTC(),
	}
	if !s.sessions.push(gen, userMsg) {
		return result, ErrSessionChanged
	}
	saved, err := s.store.AppendMessage(ctx, result.SessionID, transcript.RoleHuman, prompt)
	if err != nil {
		s.sessions.pop(gen)
		return result, fmt.Errorf("save user message: %w", err)
	}
	s.sessions.stamp(gen, saved.CreatedAt)

	history, ok := s.sessions.history(gen)
	if !ok {
		return result, ErrSessionChanged
	}
	s.logf("turn session=%s model=%s prompt=%q", result.SessionID, model.Label, truncate(prompt, promptLogSnippet))

	reply, err := provider.Respond(ctx, history, options.onDelta)
	if err == nil {
		// 回复到达后才取消的 turn 同样不落盘
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logf("turn in session %s canceled", result.SessionID)
		} else {
			s.logf("turn in session %s failed: %v", result.SessionID, err)
		}
		return result, err
	}
	result.Reply = reply

	assistantMsg := transcript.Message{
		SessionID: result.SessionID,
		Role:      transcript.RoleAssistant,
		Content:   reply,
		CreatedAt: s.now().UTC(),
	}
	if !s.sessions.push(gen, assistantMsg) {
		return result, ErrSessionChanged
	}
	// 回复已展示给用户，界面关闭不应阻止保存
	saved, err = s.store.AppendMessage(context.WithoutCancel(ctx), result.SessionID, transcript.RoleAssistant, reply)
	if err != nil {
		s.logf("reply in session %s not saved: %v", result.SessionID, err)
		return result, fmt.Errorf("%w: %w", ErrReplyNotSaved, err)
	}
	s.sessions.stamp(gen, saved.CreatedAt)
	result.Saved = true
	return result, nil
}

func (s *Service) logf(format string, args ...interface{}) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func truncate(src string, limit int) string {
	runes := []rune(src)
	if len(runes) <= limit {
		return src
	}
	return string(runes[:limit]) + "..."
}
