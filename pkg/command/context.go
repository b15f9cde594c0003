package command

import (
	"context"
	"fmt"

	"github.com/IMBotPlatform/IMBotChat/pkg/botcore"
)

// keyExecutionContext 是 context.Context 中存储 ExecutionContext 的键。
type keyExecutionContext struct{}

// ContextValues 存储命令执行过程中的上下文扩展字段。
type ContextValues map[string]string

// ConversationStore 定义上下文存取接口，便于替换实现。
type ConversationStore interface {
	Load(key string) (ContextValues, error)
	Save(key string, values ContextValues) error
}

// ExecutionContext 为命令 handler 提供必要的环境信息。
type ExecutionContext struct {
	Update botcore.Update
	Values ContextValues
	Store  ConversationStore

	// sendSignal 允许命令立即向 Pipeline 发送结束信号
	sendSignal func(chunk botcore.StreamChunk)
}

// SetResponsePayload 立即发送携带结构化对象的结束片段。
func (ctx *ExecutionContext) SetResponsePayload(payload interface{}) {
	if ctx.sendSignal != nil {
		ctx.sendSignal(botcore.StreamChunk{
			Payload: payload,
			IsFinal: true,
		})
	}
}

// Value 读取上下文键值。
func (ctx *ExecutionContext) Value(key string) string {
	if ctx == nil || ctx.Values == nil {
		return ""
	}
	return ctx.Values[key]
}

// Remember 更新当前值并写回 Store；value 为空表示清除该键。
func (ctx *ExecutionContext) Remember(key, value string) error {
	if ctx.Values == nil {
		ctx.Values = ContextValues{}
	}
	if value == "" {
		delete(ctx.Values, key)
	} else {
		ctx.Values[key] = value
	}
	if ctx.Store == nil {
		return nil
	}
	return ctx.Store.Save(ctx.ConversationKey(), ContextValues{key: value})
}

// ConversationKey 返回当前上下文在存储中的唯一 key。
func (ctx *ExecutionContext) ConversationKey() string {
	if ctx == nil {
		return ""
	}
	return ConversationKey(ctx.Update)
}

// ConversationKey 由 ChatID 与 SenderID 组成存储 key。
func ConversationKey(update botcore.Update) string {
	return fmt.Sprintf("%s:%s", update.ChatID, update.SenderID)
}

// WithExecutionContext 将 ExecutionContext 注入到标准 context.Context 中。
func WithExecutionContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, keyExecutionContext{}, execCtx)
}

// FromContext 从标准 context.Context 中提取 ExecutionContext。
func FromContext(ctx context.Context) *ExecutionContext {
	val, _ := ctx.Value(keyExecutionContext{}).(*ExecutionContext)
	return val
}
