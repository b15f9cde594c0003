package botcore

import "context"

// StreamChunk 描述流式输出片段。
type StreamChunk struct {
	Content string
	Payload interface{} // 扩展：携带结构化结果（如 *chat.TurnResult、会话列表）
	IsFinal bool
	Err     error // 仅在 IsFinal 片段上设置
}

// PipelineInvoker 抽象命令/业务执行器。
// 调用方必须读完返回的通道直到其关闭。
type PipelineInvoker interface {
	Trigger(ctx context.Context, update Update) <-chan StreamChunk
}

// PipelineFunc 便于直接以函数充当 PipelineInvoker。
type PipelineFunc func(ctx context.Context, update Update) <-chan StreamChunk

// Trigger 实现 PipelineInvoker 接口。
func (f PipelineFunc) Trigger(ctx context.Context, update Update) <-chan StreamChunk {
	if f == nil {
		return nil
	}
	return f(ctx, update)
}

// Final 构造一个只含结束片段的已关闭通道。
func Final(content string, err error) <-chan StreamChunk {
	out := make(chan StreamChunk, 1)
	out <- StreamChunk{Content: content, IsFinal: true, Err: err}
	close(out)
	return out
}

// Drain 读完通道，拼接全部文本并返回最后一个 Final 片段。
func Drain(ch <-chan StreamChunk) (string, StreamChunk) {
	var (
		text  []byte
		final StreamChunk
	)
	for chunk := range ch {
		text = append(text, chunk.Content...)
		if chunk.IsFinal {
			final = chunk
		}
	}
	return string(text), final
}
