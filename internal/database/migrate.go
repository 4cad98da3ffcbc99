// Package database はデータベース接続とusersスキーマのマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// usersSourceName はmigrateに渡すusersスキーマのソース名。
const usersSourceName = "hanumo-users"

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動での修復が必要なことを示す。
var ErrDirtySchema = errors.New("users schema is dirty")

// SchemaStatus はusersスキーマの適用状況。
type SchemaStatus struct {
	Version uint
	Dirty   bool
	Applied bool // falseの場合は未適用
}

// NewMigrator はusersスキーマ用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance(usersSourceName, source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// すでに最新の場合はエラーなしで返る。dirty状態の場合はErrDirtySchemaを返す。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("%w at version %d", ErrDirtySchema, dirty.Version)
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := readStatus(m)
	if err != nil {
		return err
	}
	slog.Info("users schema is up to date",
		slog.String("source", usersSourceName),
		slog.Uint64("version", uint64(status.Version)),
	)
	return nil
}

// Status はusersスキーマの現在のバージョンを返す。マイグレーションは適用しない。
func Status(databaseURL string) (SchemaStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaStatus{}, err
	}
	defer m.Close()

	return readStatus(m)
}

func readStatus(m *migrate.Migrate) (SchemaStatus, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaStatus{}, nil
	}
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaStatus{Version: version, Dirty: dirty, Applied: true}, nil
}
