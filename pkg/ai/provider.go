package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

// ProviderKind 标识 provider 家族。
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderBedrock   ProviderKind = "bedrock"
	ProviderGemini    ProviderKind = "gemini"
	ProviderAnthropic ProviderKind = "anthropic"
)

// Valid 报告该类型是否有实现。
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderOpenAI, ProviderBedrock, ProviderGemini, ProviderAnthropic:
		return true
	}
	return false
}

// familyMarkers 将模型 ID 的小写子串映射到 provider 类型。
// 未匹配的一律由 Gemini 提供服务。
var familyMarkers = []struct {
	marker string
	kind   ProviderKind
}{
	{"gpt", ProviderOpenAI},
	{"claude", ProviderBedrock},
}

// InferKind 取第一个带有已知家族标记的标识来确定 provider 类型。
func InferKind(identifiers ...string) ProviderKind {
	for _, id := range identifiers {
		lower := strings.ToLower(id)
		for _, fm := range familyMarkers {
			if strings.Contains(lower, fm.marker) {
				return fm.kind
			}
		}
	}
	return ProviderGemini
}

// Provider 把对话历史转换为助手回复。
// onDelta 非 nil 时逐段接收到达的文本增量，返回值始终是完整回复。
type Provider interface {
	Respond(ctx context.Context, history []transcript.Message, onDelta func(string)) (string, error)
}

// ProviderFunc 允许直接以函数形式实现 Provider。
type ProviderFunc func(ctx context.Context, history []transcript.Message, onDelta func(string)) (string, error)

// Respond 实现 Provider 接口。
func (f ProviderFunc) Respond(ctx context.Context, history []transcript.Message, onDelta func(string)) (string, error) {
	return f(ctx, history, onDelta)
}

// llmProvider 将 langchaingo 模型适配为 Provider。
type llmProvider struct {
	kind        ProviderKind
	llm         llms.Model
	temperature float64
	stream      bool
}

// Respond 调用 LLM 并在启用流式时逐段回调 onDelta。
//
//	history -> MessageContent -> GenerateContent --(stream)--> onDelta
//	                                   |
//	                                   v
//	                           full reply (Choices[0] or accumulated chunks)
func (p *llmProvider) Respond(ctx context.Context, history []transcript.Message, onDelta func(string)) (string, error) {
	messages := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		messages = append(messages, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	opts := []llms.CallOption{llms.WithTemperature(p.temperature)}
	var streamed strings.Builder
	if p.stream {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			streamed.Write(chunk) // 累计全量，防止 Choices 为空
			if onDelta != nil {
				onDelta(string(chunk))
			}
			return nil
		}))
	}

	resp, err := p.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", &ProviderError{Kind: p.kind, Cause: err}
	}

	text := ""
	if resp != nil && len(resp.Choices) > 0 {
		text = resp.Choices[0].Content
	}
	if text == "" {
		text = streamed.String()
	}
	if text == "" {
		return "", &ProviderError{Kind: p.kind, Cause: ErrEmptyResponse}
	}
	return text, nil
}

func messageType(role transcript.Role) llms.ChatMessageType {
	if role == transcript.RoleAssistant {
		return llms.ChatMessageTypeAI
	}
	return llms.ChatMessageTypeHuman
}

// newLLM 根据 Provider 类型初始化 langchaingo 模型实例。
func newLLM(ctx context.Context, cfg ModelConfig) (llms.Model, error) {
	var llm llms.Model
	var err error

	apiKey := resolveAPIKey(cfg.APIKey)

	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.ModelName)}
		if apiKey != "" {
			opts = append(opts, openai.WithToken(apiKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	case ProviderBedrock:
		// 凭证与区域沿用 AWS SDK 默认链（环境变量 / 共享配置）。
		llm, err = bedrock.New(bedrock.WithModel(cfg.ModelName))
	case ProviderGemini:
		llm, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(cfg.ModelName),
		)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(cfg.ModelName)}
		if apiKey != "" {
			opts = append(opts, anthropic.WithToken(apiKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		llm, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s model provider: %w", cfg.Provider, err)
	}
	return llm, nil
}
