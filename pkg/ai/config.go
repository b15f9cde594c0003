package ai

import (
	"fmt"
	"os"
	"strings"
)

// DefaultTemperature 是未另行配置时传给所有 provider 的温度。
const DefaultTemperature = 0.7

// ModelConfig 定义一个可选模型。
type ModelConfig struct {
	Label     string       `json:"label" yaml:"label"`                           // 面向用户的名称，例如 "GPT-4o Mini"
	Provider  ProviderKind `json:"provider,omitempty" yaml:"provider,omitempty"` // 为空时由 ModelName 推断
	ModelName string       `json:"model_name" yaml:"model_name"`                 // provider 侧的模型 ID，例如 "gpt-4o-mini"
	APIKey    string       `json:"api_key,omitempty" yaml:"api_key,omitempty"`   // 直接填写密钥或 "env:NAME"
	BaseURL   string       `json:"base_url,omitempty" yaml:"base_url,omitempty"` // 可选的自定义端点
	Stream    *bool        `json:"stream,omitempty" yaml:"stream,omitempty"`     // 默认开启，gemini 除外
}

// Streaming 报告是否以流式方式请求回复。
func (m ModelConfig) Streaming() bool {
	if m.Stream != nil {
		return *m.Stream
	}
	return m.Provider != ProviderGemini
}

// Config 保存模型表与进程级温度。
type Config struct {
	DefaultModel string        `json:"default_model" yaml:"default_model"`
	Temperature  float64       `json:"temperature" yaml:"temperature"`
	Models       []ModelConfig `json:"models" yaml:"models"`
}

// DefaultConfig 返回内置模型表。
func DefaultConfig() Config {
	return Config{
		DefaultModel: "GPT-4o Mini",
		Temperature:  DefaultTemperature,
		Models: []ModelConfig{
			{Label: "GPT-4o Mini", ModelName: "gpt-4o-mini", APIKey: "env:OPENAI_API_KEY"},
			{Label: "GPT-4o", ModelName: "gpt-4o", APIKey: "env:OPENAI_API_KEY"},
			{Label: "Claude 3.5 Sonnet", ModelName: "anthropic.claude-3-5-sonnet-20240620-v1:0"},
			{Label: "Gemini 1.5 Flash", ModelName: "gemini-1.5-flash", APIKey: "env:GOOGLE_API_KEY"},
		},
	}
}

// Normalize 推断缺失的 provider 类型并校验模型表。
// 在加载配置时调用一次，未知 provider 或重复标签在任何 turn 运行前即报错。
func (c *Config) Normalize() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: no models configured", ErrInvalidConfig)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("%w: negative temperature %v", ErrInvalidConfig, c.Temperature)
	}

	seen := make(map[string]bool, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if m.Label == "" || m.ModelName == "" {
			return fmt.Errorf("%w: model %d needs label and model_name", ErrInvalidConfig, i)
		}
		if seen[m.Label] {
			return fmt.Errorf("%w: duplicate model label %q", ErrInvalidConfig, m.Label)
		}
		seen[m.Label] = true

		if m.Provider == "" {
			m.Provider = InferKind(m.ModelName, m.Label)
		}
		if !m.Provider.Valid() {
			return fmt.Errorf("%w: model %q: %q", ErrUnknownProvider, m.Label, m.Provider)
		}
	}

	if c.DefaultModel == "" {
		c.DefaultModel = c.Models[0].Label
	}
	if !seen[c.DefaultModel] {
		return fmt.Errorf("%w: default model %q", ErrModelNotFound, c.DefaultModel)
	}
	return nil
}

// resolveAPIKey 解析 API 密钥。
// 如果密钥以 "env:" 开头，则从环境变量中获取实际值。
func resolveAPIKey(key string) string {
	if strings.HasPrefix(key, "env:") {
		return os.Getenv(strings.TrimPrefix(key, "env:"))
	}
	return key
}
