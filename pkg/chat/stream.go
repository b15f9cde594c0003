package chat

import (
	"context"

	"github.com/IMBotPlatform/IMBotChat/pkg/botcore"
	"github.com/IMBotPlatform/IMBotChat/pkg/command"
)

// MetaModel 是 Update 元数据中显式指定模型标签的键。
const MetaModel = "model"

// Stream 执行一次 turn 并以分片形式上报：每个流式片段一个分片，
// 最后一个分片的 Payload 为 *TurnResult，同时携带错误。
// 不支持流式的 provider 在最后一个分片中给出完整回复。
// 调用方必须读完通道。
func (s *Service) Stream(ctx context.Context, prompt, modelLabel string) <-chan botcore.StreamChunk {
	out := make(chan botcore.StreamChunk, 16)
	go func() {
		defer close(out)

		streamed := false
		res, err := s.Turn(ctx, prompt, modelLabel, WithDeltas(func(delta string) {
			if delta == "" {
				return
			}
			streamed = true
			select {
			case out <- botcore.StreamChunk{Content: delta}:
			case <-ctx.Done():
			}
		}))

		final := botcore.StreamChunk{IsFinal: true, Err: err}
		if res != nil {
			final.Payload = res
			if !streamed {
				final.Content = res.Reply
			}
		}
		out <- final
	}()
	return out
}

// Handler 将 Service 适配为 pipeline。模型标签依次取自 update 元数据、
// prefs（由 /model 命令保存）、fallback。
func (s *Service) Handler(prefs command.ConversationStore, fallback string) botcore.PipelineInvoker {
	return botcore.PipelineFunc(func(ctx context.Context, update botcore.Update) <-chan botcore.StreamChunk {
		return s.Stream(ctx, update.Text, SelectedModel(update, prefs, fallback))
	})
}

// SelectedModel 为 update 选择模型标签。
func SelectedModel(update botcore.Update, prefs command.ConversationStore, fallback string) string {
	if label := update.Meta(MetaModel); label != "" {
		return label
	}
	if prefs != nil {
		if values, err := prefs.Load(command.ConversationKey(update)); err == nil && values[MetaModel] != "" {
			return values[MetaModel]
		}
	}
	return fallback
}
