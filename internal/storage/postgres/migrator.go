package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(48151623)
	schemaTableDDL   = `
CREATE TABLE IF NOT EXISTS catalog_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

// Migration: пара up/down скриптов одной версии схемы.
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrationState описывает состояние схемы, то есть применённые и ожидающие версии.
type MigrationState struct {
	Current int64
	Applied []int64
	Pending []Migration
}

// Migrator применяет встроенные миграции под advisory lock,
// поэтому несколько экземпляров сервиса могут стартовать одновременно.
type Migrator struct {
	db         *sql.DB
	logger     *log.Entry
	migrations []Migration
}

// NewMigrator загружает встроенные миграции.
func NewMigrator(store *Store, logger *log.Entry) (*Migrator, error) {
	if store == nil || store.db == nil {
		return nil, errors.New("postgres store is not initialized")
	}
	if logger == nil {
		logger = log.WithField("component", "postgres-migrator")
	}

	migrations, err := parseMigrations(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: store.db, logger: logger, migrations: migrations}, nil
}

// Up применяет ожидающие миграции; steps<=0 означает "все".
func (m *Migrator) Up(ctx context.Context, steps int) error {
	return m.withLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		done := 0
		for _, mig := range m.migrations {
			if _, ok := applied[mig.Version]; ok {
				continue
			}
			if err := m.apply(ctx, conn, mig, true); err != nil {
				return err
			}
			done++
			if steps > 0 && done >= steps {
				break
			}
		}
		if done == 0 {
			m.logger.Debug("schema is up to date")
		}
		return nil
	})
}

// Down откатывает последние steps миграций; steps<=0 трактуется как один шаг.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}

	byVersion := make(map[int64]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		byVersion[mig.Version] = mig
	}

	return m.withLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		versions := sortedDesc(applied)
		if len(versions) > steps {
			versions = versions[:steps]
		}

		for _, version := range versions {
			mig, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("cannot roll back unknown migration version %d", version)
			}
			if err := m.apply(ctx, conn, mig, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// Status сообщает текущую версию схемы и список ожидающих миграций.
func (m *Migrator) Status(ctx context.Context) (MigrationState, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := m.db.ExecContext(queryCtx, schemaTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := m.db.QueryContext(queryCtx, `SELECT version FROM catalog_schema_migrations ORDER BY version`)
	if err != nil {
		return MigrationState{}, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var state MigrationState
	applied := make(map[int64]struct{})
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return MigrationState{}, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
		state.Applied = append(state.Applied, version)
		state.Current = version
	}
	if err := rows.Err(); err != nil {
		return MigrationState{}, fmt.Errorf("iterate applied migrations: %w", err)
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; !ok {
			state.Pending = append(state.Pending, mig)
		}
	}
	return state, nil
}

func (m *Migrator) withLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// apply выполняет один скрипт и правит журнал миграций в той же транзакции.
func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, mig Migration, up bool) (err error) {
	direction, script := "down", mig.Down
	if up {
		direction, script = "up", mig.Up
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", direction, mig.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute %s migration %d_%s: %w", direction, mig.Version, mig.Name, err)
	}

	if up {
		_, err = tx.ExecContext(ctx, `INSERT INTO catalog_schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM catalog_schema_migrations WHERE version = $1`, mig.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s migration %d_%s: %w", direction, mig.Version, mig.Name, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", direction, mig.Version, mig.Name, err)
	}

	m.logger.WithFields(log.Fields{
		"version":   mig.Version,
		"name":      mig.Name,
		"direction": direction,
	}).Info("migration applied")
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]struct{}, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM catalog_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]struct{})
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		result[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return result, nil
}

func sortedDesc(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// parseMigrations собирает пары up/down из каталога dir и сортирует их по версии.
func parseMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*Migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationNamePattern.FindStringSubmatch(base)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = mig
		} else if mig.Name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, mig.Name, parts[2])
		}

		target := &mig.Down
		if parts[3] == "up" {
			target = &mig.Up
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}

	result := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Up == "" || mig.Down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", mig.Version, mig.Name)
		}
		result = append(result, *mig)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}
