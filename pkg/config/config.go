// Package config 由 yaml 文件、进程环境变量与工作目录下的 .env 文件组装应用配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// .env 中的变量在读取环境前生效
	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"

	"github.com/IMBotPlatform/IMBotChat/pkg/ai"
	"github.com/IMBotPlatform/IMBotChat/pkg/viewer"
)

// ErrConfig 标记进程无法据以启动的配置。
var ErrConfig = errors.New("config: invalid configuration")

// StoreKind 选择 transcript 存储后端。
type StoreKind string

const (
	StoreFirestore StoreKind = "firestore"
	StorePostgres  StoreKind = "postgres"
	StoreFile      StoreKind = "file"
	StoreMemory    StoreKind = "memory"
)

// StoreConfig 配置 transcript 存储后端。
type StoreConfig struct {
	Kind        StoreKind `yaml:"kind"`
	DataDir     string    `yaml:"data_dir"`     // 文件存储
	DatabaseURL string    `yaml:"database_url"` // postgres 存储
	ProjectID   string    `yaml:"project_id"`   // firestore，默认取凭据中的项目
}

// Config 是完整的应用配置。
type Config struct {
	AI          ai.Config   `yaml:"ai"`
	Store       StoreConfig `yaml:"store"`
	Timezone    string      `yaml:"timezone"`
	SecretsFile string      `yaml:"secrets_file"`
}

// Default 返回未指定配置文件时使用的配置。
func Default() Config {
	return Config{
		AI: ai.DefaultConfig(),
		Store: StoreConfig{
			Kind:    StoreFirestore,
			DataDir: defaultDataDir(),
		},
		Timezone: viewer.DefaultZone,
	}
}

// Load 在默认配置之上读取 path（可为空），应用环境变量覆盖并校验结果。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
		if err := resetInheritedDefaultModel(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// modelTable 只解码 ai 段中决定默认模型归属的两个字段。
type modelTable struct {
	AI struct {
		DefaultModel *string     `yaml:"default_model"`
		Models       []yaml.Node `yaml:"models"`
	} `yaml:"ai"`
}

// resetInheritedDefaultModel 处理配置文件替换了模型表却未指定 default_model 的情况：
// 继承自内置表的默认标签此时不再有效，清空后由 Normalize 取新表的第一项。
func resetInheritedDefaultModel(data []byte, cfg *Config) error {
	var table modelTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return err
	}
	if len(table.AI.Models) > 0 && table.AI.DefaultModel == nil {
		cfg.AI.DefaultModel = ""
	}
	return nil
}

// Validate 校验配置并填充派生的默认值。
func (c *Config) Validate() error {
	if err := c.AI.Normalize(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	c.Store.Kind = StoreKind(strings.ToLower(string(c.Store.Kind)))
	switch c.Store.Kind {
	case StoreFirestore, StoreMemory:
	case StoreFile:
		if c.Store.DataDir == "" {
			return fmt.Errorf("%w: store.data_dir is required for the file store", ErrConfig)
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("%w: store.database_url (or DATABASE_URL) is required for the postgres store", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrConfig, c.Store.Kind)
	}

	if _, err := viewer.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// Location 返回显示用时区。
func (c Config) Location() *time.Location {
	loc, err := viewer.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) applyEnv() {
	if v := os.Getenv("IMBOTCHAT_STORE"); v != "" {
		c.Store.Kind = StoreKind(v)
	}
	if v := os.Getenv("IMBOTCHAT_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("FIREBASE_PROJECT_ID"); v != "" {
		c.Store.ProjectID = v
	}
	if v := os.Getenv("IMBOTCHAT_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("IMBOTCHAT_SECRETS_FILE"); v != "" {
		c.SecretsFile = v
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imbotchat"
	}
	return filepath.Join(home, ".imbotchat")
}
