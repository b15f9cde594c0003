package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

// fakeLLM 模拟 langchaingo 模型，按片段触发流式回调。
type fakeLLM struct {
	chunks   []string
	err      error
	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.opts.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: strings.Join(f.chunks, "")}},
	}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func factoryFor(models map[ProviderKind]*fakeLLM) Factory {
	return func(ctx context.Context, cfg ModelConfig) (llms.Model, error) {
		m, ok := models[cfg.Provider]
		if !ok {
			return nil, errors.New("no fake for " + string(cfg.Provider))
		}
		return m, nil
	}
}

func TestInferKind(t *testing.T) {
	tests := []struct {
		label string
		want  ProviderKind
	}{
		{"GPT-4o Mini", ProviderOpenAI},
		{"GPT-4o", ProviderOpenAI},
		{"Claude 3.5 Sonnet", ProviderBedrock},
		{"Gemini 1.5 Flash", ProviderGemini},
	}
	cfg := DefaultConfig()
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			for _, m := range cfg.Models {
				if m.Label == tt.label && m.Provider != tt.want {
					t.Fatalf("%s resolved to %s, want %s", tt.label, m.Provider, tt.want)
				}
			}
		})
	}
}

func TestRegistryResolvesClaudeToBedrock(t *testing.T) {
	bedrockLLM := &fakeLLM{chunks: []string{"from bedrock"}}
	reg, err := NewRegistry(DefaultConfig(), WithFactory(factoryFor(map[ProviderKind]*fakeLLM{
		ProviderOpenAI:  {chunks: []string{"from openai"}},
		ProviderBedrock: bedrockLLM,
		ProviderGemini:  {chunks: []string{"from gemini"}},
	})))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	p, cfg, err := reg.Resolve(context.Background(), "Claude 3.5 Sonnet")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Provider != ProviderBedrock {
		t.Fatalf("provider = %s, want bedrock", cfg.Provider)
	}
	reply, err := p.Respond(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "from bedrock" {
		t.Fatalf("reply = %q", reply)
	}

	// 第二次 Resolve 命中缓存。
	again, _, _ := reg.Resolve(context.Background(), "Claude 3.5 Sonnet")
	if again != p {
		t.Fatalf("provider not cached")
	}
}

func TestRegistryRejectsUnknownLabel(t *testing.T) {
	reg, err := NewRegistry(DefaultConfig())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, _, err := reg.Resolve(context.Background(), "GPT-5 Ultra"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("got %v, want ErrModelNotFound", err)
	}
}

func TestConfigRejectsUnknownProvider(t *testing.T) {
	cfg := Config{
		Temperature: DefaultTemperature,
		Models:      []ModelConfig{{Label: "Local", ModelName: "llama3", Provider: "ollama"}},
	}
	if _, err := NewRegistry(cfg); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("got %v, want ErrUnknownProvider", err)
	}
}

func TestConfigRejectsDuplicateLabel(t *testing.T) {
	cfg := Config{
		Temperature: DefaultTemperature,
		Models: []ModelConfig{
			{Label: "A", ModelName: "gpt-4o"},
			{Label: "A", ModelName: "gpt-4o-mini"},
		},
	}
	if err := cfg.Normalize(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestProviderStreamingMatchesFullText(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"Hel", "lo", "!"}}
	p := &llmProvider{kind: ProviderOpenAI, llm: llm, temperature: 0.7, stream: true}

	history := []transcript.Message{
		{Role: transcript.RoleHuman, Content: "Hi"},
		{Role: transcript.RoleAssistant, Content: "Hello!"},
		{Role: transcript.RoleHuman, Content: "Again"},
	}

	var deltas []string
	reply, err := p.Respond(context.Background(), history, func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "Hello!" {
		t.Fatalf("reply = %q", reply)
	}
	if strings.Join(deltas, "") != reply {
		t.Fatalf("deltas %q do not add up to %q", deltas, reply)
	}
	if llm.opts.Temperature != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", llm.opts.Temperature)
	}
	if len(llm.messages) != 3 {
		t.Fatalf("got %d messages", len(llm.messages))
	}
	if llm.messages[0].Role != llms.ChatMessageTypeHuman || llm.messages[1].Role != llms.ChatMessageTypeAI {
		t.Fatalf("roles = %s, %s", llm.messages[0].Role, llm.messages[1].Role)
	}
}

func TestProviderWithoutStreaming(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"whole reply"}}
	p := &llmProvider{kind: ProviderGemini, llm: llm, temperature: 0.7}

	called := false
	reply, err := p.Respond(context.Background(), nil, func(string) { called = true })
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "whole reply" || called {
		t.Fatalf("reply = %q, delta called = %v", reply, called)
	}
	if llm.opts.StreamingFunc != nil {
		t.Fatalf("streaming func set for non-streaming provider")
	}
}

func TestProviderErrorWrapsCause(t *testing.T) {
	cause := errors.New("quota exceeded")
	p := &llmProvider{kind: ProviderOpenAI, llm: &fakeLLM{err: cause}, stream: true}

	_, err := p.Respond(context.Background(), nil, nil)
	if !errors.Is(err, ErrProviderFailed) || !errors.Is(err, cause) {
		t.Fatalf("got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != ProviderOpenAI {
		t.Fatalf("not a ProviderError for openai: %v", err)
	}
}

func TestRegistryRegisterProvider(t *testing.T) {
	reg, err := NewRegistry(DefaultConfig())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	echo := ProviderFunc(func(ctx context.Context, history []transcript.Message, onDelta func(string)) (string, error) {
		return history[len(history)-1].Content, nil
	})
	if err := reg.Register(ModelConfig{Label: "Echo", ModelName: "echo-1", Provider: ProviderGemini}, echo); err != nil {
		t.Fatalf("register: %v", err)
	}
	p, _, err := reg.Resolve(context.Background(), "Echo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	reply, _ := p.Respond(context.Background(), []transcript.Message{{Role: transcript.RoleHuman, Content: "ping"}}, nil)
	if reply != "ping" {
		t.Fatalf("reply = %q", reply)
	}
	labels := reg.Labels()
	if labels[len(labels)-1] != "Echo" {
		t.Fatalf("labels = %v", labels)
	}
}
