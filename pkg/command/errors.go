package command

import "errors"

// 定义命令解析与分发阶段的通用错误，便于统一处理提示文案。
var (
	// ErrCommandNotFound 表示输入不是以命令前缀开头。
	ErrCommandNotFound = errors.New("command: not a command")
	// ErrCommandRequired 表示输入为空。
	ErrCommandRequired = errors.New("command: command required")
	// ErrNotInitialized 表示 Manager 缺少命令工厂。
	ErrNotInitialized = errors.New("command: manager not initialized")
)
