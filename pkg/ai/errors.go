package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotFound 表示模型标签不在配置表中。
	ErrModelNotFound = errors.New("ai: model not found")
	// ErrUnknownProvider 表示 provider 类型没有对应实现。
	ErrUnknownProvider = errors.New("ai: unknown provider")
	// ErrInvalidConfig 表示模型表格式错误。
	ErrInvalidConfig = errors.New("ai: invalid config")
	// ErrProviderFailed 匹配所有 ProviderError。
	ErrProviderFailed = errors.New("ai: provider error")
	// ErrEmptyResponse 表示 provider 调用没有产生任何文本。
	ErrEmptyResponse = errors.New("ai: empty response")
)

// ProviderError 包装失败的 provider 调用。
type ProviderError struct {
	Kind  ProviderKind
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai: %s provider: %v", e.Kind, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is 使任意 ProviderError 满足 errors.Is(err, ErrProviderFailed)。
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailed
}
