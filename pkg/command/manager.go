package command

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/IMBotPlatform/IMBotChat/pkg/botcore"
)

const commandLogSnippet = 256

// Manager 实现 PipelineInvoker，负责串联解析、构建 Cobra 命令树并执行。
type Manager struct {
	factory CommandFactory
	parser  Parser
	store   ConversationStore
	logger  *log.Logger
}

// ManagerOption 自定义 Manager 行为。
type ManagerOption func(*Manager)

// WithLogger 注入自定义日志记录器。
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager 绑定命令工厂与存储，返回实现 PipelineInvoker 的管理器。
func NewManager(factory CommandFactory, store ConversationStore, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		factory: factory,
		parser:  NewParser(),
		store:   store,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Trigger 满足 botcore.PipelineInvoker，为每次输入构建独立的命令树并执行。
func (m *Manager) Trigger(ctx context.Context, update botcore.Update) <-chan botcore.StreamChunk {
	if m == nil || m.factory == nil {
		return botcore.Final("", ErrNotInitialized)
	}

	// 1. 初步解析
	parsed := m.parser.Parse(update.Text)
	if !parsed.IsCommand {
		if strings.TrimSpace(update.Text) == "" {
			return botcore.Final("Type a command (e.g. /help)", ErrCommandRequired)
		}
		return botcore.Final(fmt.Sprintf("Unknown command: %s\nTry /help", parsed.Raw), ErrCommandNotFound)
	}

	out := make(chan botcore.StreamChunk, 1)
	go func() {
		defer close(out)

		// 2. 创建 Cobra 命令树
		rootCmd := m.factory()

		// 3. 配置 IO 重定向
		writer := NewStreamWriter(out).WithContext(ctx)
		rootCmd.SetOut(writer)
		rootCmd.SetErr(writer)
		rootCmd.SilenceErrors = true
		rootCmd.SilenceUsage = true
		rootCmd.CompletionOptions.DisableDefaultCmd = true

		// 4. 准备上下文
		// sync.Once 保证结束片段只发送一次
		var signalOnce sync.Once
		sendSignal := func(chunk botcore.StreamChunk) {
			signalOnce.Do(func() {
				out <- chunk
			})
		}

		execCtx := &ExecutionContext{
			Update:     update,
			Store:      m.store,
			sendSignal: sendSignal,
		}
		if m.store != nil {
			if values, err := m.store.Load(execCtx.ConversationKey()); err != nil {
				m.logf("上下文加载失败: %v", err)
			} else {
				execCtx.Values = values
			}
		}

		// 5. 设置参数并执行
		args := parsed.Tokens
		// 第一个 token 与 root command 同名时移除，避免 "unknown command X for X"
		if len(args) > 0 && strings.EqualFold(args[0], rootCmd.Name()) {
			args = args[1:]
		}
		rootCmd.SetArgs(args)
		m.logf("executing command: %s", truncateForLog(parsed.Raw, commandLogSnippet))

		if err := rootCmd.ExecuteContext(WithExecutionContext(ctx, execCtx)); err != nil {
			m.logf("command execution error: %v", err)
			sendSignal(botcore.StreamChunk{Content: fmt.Sprintf("Error: %v\n", err), IsFinal: true, Err: err})
		}

		// 兜底结束包
		sendSignal(botcore.StreamChunk{IsFinal: true})
	}()
	return out
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}

// truncateForLog 限制日志中输出的文本长度。
func truncateForLog(src string, limit int) string {
	if limit <= 0 || len(src) <= limit {
		return src
	}
	return fmt.Sprintf("%s...(truncated)", src[:limit])
}
