package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CredentialsKey 是凭据在 secrets 文件与环境变量中的键名。
const CredentialsKey = "FIREBASE_CREDENTIALS"

// Credentials 是服务账号密钥。
type Credentials struct {
	JSON      []byte
	ProjectID string
	Source    string // 密钥来源，用于日志
}

// FirebaseCredentials 依次在 secrets 文件与环境变量中查找服务账号密钥。
// 缺失或无法解析的凭据按 ErrConfig 报告。
func (c Config) FirebaseCredentials() (Credentials, error) {
	raw, source, err := c.rawCredentials()
	if err != nil {
		return Credentials{}, err
	}
	if len(raw) == 0 {
		return Credentials{}, fmt.Errorf("%w: %s is not set", ErrConfig, CredentialsKey)
	}

	var key struct {
		Type      string `json:"type"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(raw, &key); err != nil {
		return Credentials{}, fmt.Errorf("%w: %s from %s is not valid JSON: %v", ErrConfig, CredentialsKey, source, err)
	}
	return Credentials{JSON: raw, ProjectID: key.ProjectID, Source: source}, nil
}

func (c Config) rawCredentials() ([]byte, string, error) {
	if c.SecretsFile != "" {
		data, err := os.ReadFile(c.SecretsFile)
		switch {
		case os.IsNotExist(err):
			// 与环境变量方式互为后备
		case err != nil:
			return nil, "", fmt.Errorf("%w: read secrets %s: %v", ErrConfig, c.SecretsFile, err)
		default:
			raw, err := credentialsFromSecrets(data)
			if err != nil {
				return nil, "", fmt.Errorf("%w: secrets %s: %v", ErrConfig, c.SecretsFile, err)
			}
			if len(raw) > 0 {
				return raw, c.SecretsFile, nil
			}
		}
	}
	return []byte(os.Getenv(CredentialsKey)), "environment", nil
}

// credentialsFromSecrets 接受 JSON 字符串或嵌套映射两种形式的密钥。
func credentialsFromSecrets(data []byte) ([]byte, error) {
	var secrets map[string]interface{}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, err
	}
	switch v := secrets[CredentialsKey].(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case map[string]interface{}:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%s has unsupported type %T", CredentialsKey, v)
	}
}
