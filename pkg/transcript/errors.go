package transcript

import "errors"

var (
	// ErrStoreUnavailable 表示访问后端存储时出现暂时性故障。
	ErrStoreUnavailable = errors.New("transcript: store unavailable")
	// ErrStoreCorrupt 表示存储中的记录无法解码，不可重试。
	ErrStoreCorrupt = errors.New("transcript: store corrupt")
	// ErrSessionNotFound 表示会话 ID 不存在。
	ErrSessionNotFound = errors.New("transcript: session not found")
)
