// Command imbotchat 是终端聊天客户端，所有对话都保存在 transcript 存储中，
// 并允许用户在两轮之间切换模型。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/IMBotPlatform/IMBotChat/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// 配置错误不可恢复
		if errors.Is(err, config.ErrConfig) {
			log.Fatalf("imbotchat: %v", err)
		}
		fmt.Fprintf(os.Stderr, "imbotchat: %v\n", err)
		os.Exit(1)
	}
}
