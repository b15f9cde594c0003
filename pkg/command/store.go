package command

import "sync"

// PreferenceStore 按聊天窗口保存偏好设置（如 /model 选定的模型标签）。
// 只保存偏好，不保存聊天历史；进程退出即丢失。
type PreferenceStore struct {
	mu      sync.RWMutex
	windows map[string]ContextValues
}

// NewPreferenceStore 创建空的偏好存储。
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{windows: make(map[string]ContextValues)}
}

// Load 返回窗口偏好的副本；未设置过偏好的窗口返回 nil。
func (s *PreferenceStore) Load(window string) (ContextValues, error) {
	if s == nil || window == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefs, ok := s.windows[window]
	if !ok {
		return nil, nil
	}
	out := make(ContextValues, len(prefs))
	for k, v := range prefs {
		out[k] = v
	}
	return out, nil
}

// Save 把 changes 合并进窗口偏好。值为空的键被清除，
// 窗口最后一项偏好被清除后整个窗口一并移除。
func (s *PreferenceStore) Save(window string, changes ContextValues) error {
	if s == nil || window == "" || len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs := s.windows[window]
	if prefs == nil {
		prefs = make(ContextValues, len(changes))
	}
	for k, v := range changes {
		if v == "" {
			delete(prefs, k)
			continue
		}
		prefs[k] = v
	}
	if len(prefs) == 0 {
		delete(s.windows, window)
		return nil
	}
	s.windows[window] = prefs
	return nil
}

var _ ConversationStore = (*PreferenceStore)(nil)
