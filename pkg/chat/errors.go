package chat

import "errors"

var (
	// ErrEmptyPrompt 表示用户输入为空，不写入任何内容。
	ErrEmptyPrompt = errors.New("chat: empty prompt")
	// ErrTurnInProgress 表示该 Service 已有 turn 在运行。
	ErrTurnInProgress = errors.New("chat: a turn is already in progress")
	// ErrSessionChanged 表示 turn 运行期间当前会话已被替换。
	ErrSessionChanged = errors.New("chat: active session changed during turn")
	// ErrReplyNotSaved 标记已展示但未持久化的回复。
	ErrReplyNotSaved = errors.New("chat: reply was not saved")
)
