package config

import (
	"context"
	"fmt"

	"github.com/IMBotPlatform/IMBotChat/pkg/transcript"
	"github.com/IMBotPlatform/IMBotChat/pkg/transcript/firestore"
	"github.com/IMBotPlatform/IMBotChat/pkg/transcript/postgres"
)

// OpenStore 连接配置的 transcript 存储后端。
func (c Config) OpenStore(ctx context.Context) (transcript.Store, error) {
	switch c.Store.Kind {
	case StoreMemory:
		return transcript.NewMemoryStore(), nil
	case StoreFile:
		store, err := transcript.NewFileStore(c.Store.DataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorePostgres:
		store, err := postgres.Connect(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreFirestore:
		creds, err := c.FirebaseCredentials()
		if err != nil {
			return nil, err
		}
		project := c.Store.ProjectID
		if project == "" {
			project = creds.ProjectID
		}
		store, err := firestore.New(ctx, project, creds.JSON)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("%w: unknown store kind %q", ErrConfig, c.Store.Kind)
}
