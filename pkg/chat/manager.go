package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

// State 表示会话管理器当前是否绑定了会话。
type State int

const (
	// StateEmpty 尚未开始会话，缓冲区为空。
	StateEmpty State = iota
	// StateActive 已绑定一个持久化会话。
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "empty"
}

// Manager 持有当前会话 ID、模型与对话缓冲区。
// 缓冲区只包含已经写入（或正在写入）存储的消息。
type Manager struct {
	store transcript.Store

	mu         sync.RWMutex
	sessionID  string
	model      string
	buffer     []transcript.Message
	generation uint64
}

// NewManager 创建处于 Empty 状态的会话管理器。
func NewManager(store transcript.Store) *Manager {
	return &Manager{store: store}
}

// StartNew 清空缓冲区并回到 Empty 状态；不触碰存储。
func (m *Manager) StartNew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = ""
	m.model = ""
	m.buffer = nil
	m.generation++
}

// Resume 从存储加载会话全部消息并设为当前会话。
// 加载失败时保留之前的状态。
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resume %s: %w", sessionID, err)
	}
	msgs, err := transcript.Collect(m.store.ListMessages(ctx, sessionID))
	if err != nil {
		return fmt.Errorf("resume %s: %w", sessionID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = sess.ID
	m.model = sess.Model
	m.buffer = msgs
	m.generation++
	return nil
}

// CurrentSessionID 返回当前会话 ID，Empty 状态下为空串。
func (m *Manager) CurrentSessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// CurrentModel 返回当前会话创建时使用的模型标识。
func (m *Manager) CurrentModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

// CurrentBuffer 返回缓冲区副本。
func (m *Manager) CurrentBuffer() []transcript.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]transcript.Message(nil), m.buffer...)
}

// State 返回当前状态。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sessionID == "" {
		return StateEmpty
	}
	return StateActive
}

// snapshot 返回当前会话 ID 与代数，供一次 turn 在开始时记录。
func (m *Manager) snapshot() (string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID, m.generation
}

// adopt 在代数未变且仍为 Empty 时绑定新创建的会话。
func (m *Manager) adopt(gen uint64, sessionID, model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.sessionID != "" {
		return false
	}
	m.sessionID = sessionID
	m.model = model
	return true
}

// push 追加消息；代数变化说明会话已被切换，此时不追加。
func (m *Manager) push(gen uint64, msg transcript.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	m.buffer = append(m.buffer, msg)
	return true
}

// stamp 用存储分配的时间戳替换最后一条消息的临时时间戳。
func (m *Manager) stamp(gen uint64, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || len(m.buffer) == 0 {
		return
	}
	m.buffer[len(m.buffer)-1].CreatedAt = createdAt
}

// pop 撤销最后一次 push。
func (m *Manager) pop(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || len(m.buffer) == 0 {
		return
	}
	m.buffer = m.buffer[:len(m.buffer)-1]
}

// history 返回当前代数下的缓冲区副本。
func (m *Manager) history(gen uint64) ([]transcript.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.generation != gen {
		return nil, false
	}
	return append([]transcript.Message(nil), m.buffer...), true
}
