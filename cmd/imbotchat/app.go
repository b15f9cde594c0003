package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/IMBotChat/pkg/ai"
	"github.com/IMBotPlatform/IMBotChat/pkg/config"
	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
	"github.com/IMBotPlatform/IMBotChat/pkg/viewer"
)

// globalFlags 为所有子命令共享的参数。
type globalFlags struct {
	configPath string
	store      string
	model      string
	logFile    string
	verbose    bool
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", os.Getenv("IMBOTCHAT_CONFIG"), "yaml config file")
	pf.StringVar(&f.store, "store", "", "transcript store: firestore, postgres, file or memory")
	pf.StringVarP(&f.model, "model", "m", "", "model label (see `imbotchat models`)")
	pf.StringVar(&f.logFile, "log-file", "", "append logs to this file")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log to stderr")
}

// app 持有一次运行所需的全部依赖。
type app struct {
	cfg      config.Config
	store    transcript.Store
	registry *ai.Registry
	viewer   *viewer.Viewer
	logger   *log.Logger
	closers  []io.Closer
}

// openApp 加载配置并连接存储。
func openApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.store != "" {
		cfg.Store.Kind = config.StoreKind(flags.store)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg}
	if a.logger, err = a.openLogger(flags); err != nil {
		return nil, err
	}

	if a.registry, err = ai.NewRegistry(cfg.AI); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	if flags.model != "" {
		if _, err := a.registry.Lookup(flags.model); err != nil {
			return nil, err
		}
	}

	if a.store, err = cfg.OpenStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store)
	a.viewer = viewer.New(a.store, viewer.WithLocation(cfg.Location()))
	a.logf("store=%s timezone=%s default_model=%q", cfg.Store.Kind, cfg.Timezone, cfg.AI.DefaultModel)
	return a, nil
}

func (a *app) openLogger(flags *globalFlags) (*log.Logger, error) {
	switch {
	case flags.logFile != "":
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.closers = append(a.closers, f)
		return log.New(f, "imbotchat: ", log.LstdFlags), nil
	case flags.verbose:
		return log.New(os.Stderr, "imbotchat: ", log.LstdFlags), nil
	}
	return nil, nil
}

// modelLabel 返回命令行指定的模型，未指定时使用默认模型。
func (a *app) modelLabel(flags *globalFlags) string {
	if flags.model != "" {
		return flags.model
	}
	return a.registry.DefaultLabel()
}

func (a *app) logf(format string, args ...interface{}) {
	if a == nil || a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}

// Close 释放存储连接与日志文件。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logf("close: %v", err)
		}
	}
	a.closers = nil
}
