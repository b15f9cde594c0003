package botcore

import (
	"context"
	"strings"
)

// Matcher 定义路由匹配逻辑。
// 返回 true 表示该路由应该处理此 Update。
type Matcher func(update Update) bool

// Route 定义单条路由规则。
type Route struct {
	Name    string
	Matcher Matcher
	Handler PipelineInvoker
}

// Chain 按顺序检查路由，首个匹配的 Handler 接管处理；
// 全部不匹配时交给默认处理器。
type Chain struct {
	routes         []Route
	defaultHandler PipelineInvoker
}

// NewChain 创建一个新的责任链路由器。
func NewChain(defaultHandler PipelineInvoker) *Chain {
	return &Chain{defaultHandler: defaultHandler}
}

// AddRoute 添加一条路由规则。
func (c *Chain) AddRoute(name string, matcher Matcher, handler PipelineInvoker) {
	c.routes = append(c.routes, Route{
		Name:    name,
		Matcher: matcher,
		Handler: handler,
	})
}

// Trigger 实现 PipelineInvoker 接口。
func (c *Chain) Trigger(ctx context.Context, update Update) <-chan StreamChunk {
	for _, route := range c.routes {
		if route.Matcher(update) {
			return route.Handler.Trigger(ctx, update)
		}
	}
	if c.defaultHandler != nil {
		return c.defaultHandler.Trigger(ctx, update)
	}
	// 既无匹配也无默认处理器，返回空流
	return Final("", nil)
}

// MatchPrefix 返回一个匹配文本前缀的 Matcher，忽略前导空白。
func MatchPrefix(prefix string) Matcher {
	return func(u Update) bool {
		return strings.HasPrefix(strings.TrimLeft(u.Text, " \t"), prefix)
	}
}

// MatchAny 返回一个总是匹配的 Matcher。
func MatchAny() Matcher {
	return func(Update) bool {
		return true
	}
}
