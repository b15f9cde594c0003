package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Factory 为配置的标签构建背后的 langchaingo 模型。
type Factory func(ctx context.Context, cfg ModelConfig) (llms.Model, error)

// RegistryOption 定制 Registry。
type RegistryOption func(*Registry)

// WithFactory 替换模型的实例化方式。
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// Registry 将模型标签映射到 provider。配置在构造时校验，
// provider 在首次 Resolve 时创建并缓存。
type Registry struct {
	mu          sync.Mutex
	models      map[string]ModelConfig
	labels      []string
	defaultName string
	temperature float64
	factory     Factory
	providers   map[string]Provider
}

// NewRegistry 校验 cfg 并基于其模型表返回注册表。
func NewRegistry(cfg Config, opts ...RegistryOption) (*Registry, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	r := &Registry{
		models:      make(map[string]ModelConfig, len(cfg.Models)),
		labels:      make([]string, 0, len(cfg.Models)),
		defaultName: cfg.DefaultModel,
		temperature: cfg.Temperature,
		factory:     newLLM,
		providers:   make(map[string]Provider),
	}
	for _, m := range cfg.Models {
		r.models[m.Label] = m
		r.labels = append(r.labels, m.Label)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Labels 按配置顺序返回全部标签。
func (r *Registry) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.labels...)
}

// DefaultLabel 返回调用方未选择模型时使用的标签。
func (r *Registry) DefaultLabel() string {
	return r.defaultName
}

// Temperature 返回进程级采样温度。
func (r *Registry) Temperature() float64 {
	return r.temperature
}

// Lookup 返回标签对应的配置。
func (r *Registry) Lookup(label string) (ModelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.models[label]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: %s", ErrModelNotFound, label)
	}
	return cfg, nil
}

// Register 添加一个由现有 Provider 服务的标签。
// 已配置的标签会替换其 provider。
func (r *Registry) Register(cfg ModelConfig, p Provider) error {
	if cfg.Label == "" || cfg.ModelName == "" {
		return fmt.Errorf("%w: register needs label and model_name", ErrInvalidConfig)
	}
	if cfg.Provider == "" {
		cfg.Provider = InferKind(cfg.ModelName, cfg.Label)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[cfg.Label]; !exists {
		r.labels = append(r.labels, cfg.Label)
	}
	r.models[cfg.Label] = cfg
	r.providers[cfg.Label] = p
	return nil
}

// Resolve 获取标签对应的 Provider。
// 如果缓存中存在则直接返回，否则通过 Factory 初始化并缓存。
//
//	Check Cache -> (Hit) -> Return
//	    |
//	  (Miss)
//	    v
//	Lookup Config -> Factory(kind) -> Update Cache -> Return
func (r *Registry) Resolve(ctx context.Context, label string) (Provider, ModelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.models[label]
	if !ok {
		return nil, ModelConfig{}, fmt.Errorf("%w: %s", ErrModelNotFound, label)
	}
	if p, ok := r.providers[label]; ok {
		return p, cfg, nil
	}

	llm, err := r.factory(ctx, cfg)
	if err != nil {
		return nil, cfg, &ProviderError{Kind: cfg.Provider, Cause: err}
	}
	p := &llmProvider{
		kind:        cfg.Provider,
		llm:         llm,
		temperature: r.temperature,
		stream:      cfg.Streaming(),
	}
	r.providers[label] = p
	return p, cfg, nil
}
