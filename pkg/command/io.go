package command

import (
	"context"

	"github.com/IMBotPlatform/IMBotChat/pkg/botcore"
)

// StreamWriter 实现 io.Writer 接口，将输出重定向到 StreamChunk 通道。
// Cobra 命令像操作 stdout 一样直接打印，结果会被流式传给界面。
type StreamWriter struct {
	Ch  chan<- botcore.StreamChunk
	ctx context.Context
}

// NewStreamWriter 创建一个新的 StreamWriter。
func NewStreamWriter(ch chan<- botcore.StreamChunk) *StreamWriter {
	return &StreamWriter{Ch: ch, ctx: context.Background()}
}

// WithContext 返回一个在 ctx 取消后停止写入的副本。
func (w *StreamWriter) WithContext(ctx context.Context) *StreamWriter {
	return &StreamWriter{Ch: w.Ch, ctx: ctx}
}

// Write 将字节切片转换为 StreamChunk 发送。
func (w *StreamWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case w.Ch <- botcore.StreamChunk{Content: string(p)}:
		return len(p), nil
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	}
}
