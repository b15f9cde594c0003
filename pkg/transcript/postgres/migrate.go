package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS chat_migrations (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	checksum   TEXT NOT NULL
);`

type migrationFile struct {
	Name     string
	Up       string
	Down     string
	Checksum string
}

// MigrationRecord 描述一个迁移及其是否已执行。
type MigrationRecord struct {
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Checksum  string
}

// ErrNothingToRollback 表示没有可回滚的已执行迁移。
var ErrNothingToRollback = errors.New("postgres: no applied migration to roll back")

type appliedMigration struct {
	ID        int
	AppliedAt time.Time
	Checksum  string
}

// loadMigrations 从内嵌文件系统读取迁移文件，按名称排序。
func loadMigrations() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	upFiles := make(map[string]string)
	downFiles := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			upFiles[strings.TrimSuffix(name, ".up.sql")] = string(data)
		case strings.HasSuffix(name, ".down.sql"):
			downFiles[strings.TrimSuffix(name, ".down.sql")] = string(data)
		}
	}

	migrations := make([]migrationFile, 0, len(upFiles))
	for key, up := range upFiles {
		migrations = append(migrations, migrationFile{
			Name:     key,
			Up:       up,
			Down:     downFiles[key],
			Checksum: fmt.Sprintf("%x", sha256.Sum256([]byte(up))),
		})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
	return migrations, nil
}

func (s *PGStore) appliedMigrations(ctx context.Context) (map[string]appliedMigration, error) {
	if _, err := s.db.Exec(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("postgres: ensure migrations table: %w", err)
	}
	rows, err := s.db.Query(ctx, `SELECT id, name, applied_at, checksum FROM chat_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]appliedMigration)
	for rows.Next() {
		var (
			name string
			rec  appliedMigration
		)
		if err := rows.Scan(&rec.ID, &name, &rec.AppliedAt, &rec.Checksum); err != nil {
			return nil, err
		}
		applied[name] = rec
	}
	return applied, rows.Err()
}

// Migrate 按顺序执行所有待执行的迁移，每个迁移一个事务。
func (s *PGStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("postgres: load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("postgres: applied migrations: %w", err)
	}

	for _, m := range migrations {
		if rec, ok := applied[m.Name]; ok {
			if rec.Checksum != m.Checksum {
				return fmt.Errorf("postgres: migration %s checksum mismatch (expected %s, got %s)", m.Name, rec.Checksum, m.Checksum)
			}
			continue
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("postgres: run migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO chat_migrations (name, checksum) VALUES ($1, $2)`, m.Name, m.Checksum); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// MigrationStatus 返回全部迁移及其执行状态。
func (s *PGStore) MigrationStatus(ctx context.Context) ([]MigrationRecord, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("postgres: load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: applied migrations: %w", err)
	}

	records := make([]MigrationRecord, 0, len(migrations))
	for _, m := range migrations {
		rec := MigrationRecord{Name: m.Name}
		if a, ok := applied[m.Name]; ok {
			at := a.AppliedAt
			rec.Applied = true
			rec.AppliedAt = &at
			rec.Checksum = a.Checksum
		}
		records = append(records, rec)
	}
	return records, nil
}

// RollbackLast 回滚最近一次执行的迁移：在同一事务内执行其 down 脚本并删除迁移记录。
// 返回被回滚的迁移名。
func (s *PGStore) RollbackLast(ctx context.Context) (string, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return "", fmt.Errorf("postgres: load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: applied migrations: %w", err)
	}

	var (
		last   migrationFile
		lastID = -1
	)
	for _, m := range migrations {
		if rec, ok := applied[m.Name]; ok && rec.ID > lastID {
			last, lastID = m, rec.ID
		}
	}
	if lastID < 0 {
		return "", ErrNothingToRollback
	}
	if last.Down == "" {
		return "", fmt.Errorf("postgres: migration %s has no down script", last.Name)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: begin rollback %s: %w", last.Name, err)
	}
	if _, err := tx.Exec(ctx, last.Down); err != nil {
		tx.Rollback(ctx)
		return "", fmt.Errorf("postgres: roll back migration %s: %w", last.Name, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chat_migrations WHERE id = $1`, lastID); err != nil {
		tx.Rollback(ctx)
		return "", fmt.Errorf("postgres: unrecord migration %s: %w", last.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("postgres: commit rollback %s: %w", last.Name, err)
	}
	return last.Name, nil
}
