package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/IMBotPlatform/IMBotChat/pkg/ai"
	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
)

const serviceAccount = `{"type":"service_account","project_id":"chat-demo","private_key_id":"k1"}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"IMBOTCHAT_STORE", "IMBOTCHAT_DATA_DIR", "DATABASE_URL", "FIREBASE_PROJECT_ID", "IMBOTCHAT_TIMEZONE", "IMBOTCHAT_SECRETS_FILE", CredentialsKey} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Kind != StoreFirestore || cfg.Timezone != "Asia/Tokyo" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.AI.Temperature != ai.DefaultTemperature || cfg.AI.DefaultModel != "GPT-4o Mini" {
		t.Fatalf("ai defaults = %+v", cfg.AI)
	}
	if cfg.Location().String() != "Asia/Tokyo" {
		t.Fatalf("location = %v", cfg.Location())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "imbotchat.yaml", `
store:
  kind: file
  data_dir: /tmp/chats
timezone: UTC
ai:
  default_model: Local Gemini
  models:
    - label: Local Gemini
      model_name: gemini-1.5-pro
`)
	t.Setenv("IMBOTCHAT_DATA_DIR", "/var/chats")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Kind != StoreFile || cfg.Store.DataDir != "/var/chats" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if len(cfg.AI.Models) != 1 || cfg.AI.Models[0].Provider != ai.ProviderGemini {
		t.Fatalf("models = %+v", cfg.AI.Models)
	}
	if cfg.AI.Temperature != ai.DefaultTemperature {
		t.Fatalf("temperature = %v", cfg.AI.Temperature)
	}
}

func TestLoadModelTableWithoutDefault(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "imbotchat.yaml", `
ai:
  models:
    - label: Local Gemini
      model_name: gemini-1.5-pro
    - label: Local Mini
      model_name: gpt-4o-mini
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.DefaultModel != "Local Gemini" {
		t.Fatalf("default model = %q, want first entry of the table", cfg.AI.DefaultModel)
	}

	// 显式给出但不在表中的默认模型仍然被拒绝
	path = writeFile(t, "imbotchat.yaml", `
ai:
  default_model: GPT-4o Mini
  models:
    - label: Local Gemini
      model_name: gemini-1.5-pro
`)
	if _, err := Load(path); !errors.Is(err, ErrConfig) {
		t.Fatalf("unknown default model: err = %v", err)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"unknown store":    "store: {kind: redis}\n",
		"postgres no url":  "store: {kind: postgres}\n",
		"bad zone":         "timezone: Mars/Olympus\n",
		"unknown provider": "ai: {models: [{label: X, model_name: x, provider: cohere}]}\n",
		"not yaml":         "store: [\n",
	}
	for name, content := range cases {
		_, err := Load(writeFile(t, "c.yaml", content))
		if !errors.Is(err, ErrConfig) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrConfig) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestFirebaseCredentials(t *testing.T) {
	clearEnv(t)

	// 未设置
	if _, err := (Config{}).FirebaseCredentials(); !errors.Is(err, ErrConfig) {
		t.Fatalf("missing credentials err = %v", err)
	}

	// 环境变量
	t.Setenv(CredentialsKey, serviceAccount)
	creds, err := (Config{}).FirebaseCredentials()
	if err != nil || creds.ProjectID != "chat-demo" || creds.Source != "environment" {
		t.Fatalf("env credentials = %+v, %v", creds, err)
	}

	// secrets 文件中的嵌套映射优先
	secrets := writeFile(t, "secrets.yaml", `
FIREBASE_CREDENTIALS:
  type: service_account
  project_id: from-secrets
`)
	creds, err = (Config{SecretsFile: secrets}).FirebaseCredentials()
	if err != nil || creds.ProjectID != "from-secrets" || creds.Source != secrets {
		t.Fatalf("secrets credentials = %+v, %v", creds, err)
	}

	// secrets 文件中的 JSON 字符串
	secrets = writeFile(t, "secrets.yaml", "FIREBASE_CREDENTIALS: '"+serviceAccount+"'\n")
	if creds, err = (Config{SecretsFile: secrets}).FirebaseCredentials(); err != nil || creds.ProjectID != "chat-demo" {
		t.Fatalf("json string credentials = %+v, %v", creds, err)
	}

	// 无法解析
	t.Setenv(CredentialsKey, "{not json")
	if _, err := (Config{}).FirebaseCredentials(); !errors.Is(err, ErrConfig) {
		t.Fatalf("bad json err = %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()

	cfg := Default()
	cfg.Store = StoreConfig{Kind: StoreFile, DataDir: t.TempDir()}
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		t.Fatalf("OpenStore(file): %v", err)
	}
	defer store.Close()
	if _, ok := store.(*transcript.FileStore); !ok {
		t.Fatalf("store type %T", store)
	}

	cfg.Store = StoreConfig{Kind: StoreFirestore}
	if _, err := cfg.OpenStore(ctx); !errors.Is(err, ErrConfig) {
		t.Fatalf("firestore without credentials err = %v", err)
	}
}
