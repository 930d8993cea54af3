// Package sql 管理关系型数据库的表结构迁移（PostgreSQL、MySQL、SQLite）
//
// 迁移脚本以 embed 方式打包在二进制中，已执行的版本记录在 schema_migrations 表。
package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"  // SQLite driver
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

// 支持的数据库类型
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

var (
	// ErrUnsupportedDialect 不支持的数据库类型
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
	// ErrNothingToRevert 没有可回滚的迁移
	ErrNothingToRevert = errors.New("no applied migration to revert")
)

// Migration 一个版本的升级与回滚脚本
type Migration struct {
	Version string
	Up      string
	Down    string
}

// Open 打开数据库连接并验证可用
func Open(ctx context.Context, dialect, dsn string) (*sql.DB, error) {
	if !supported(dialect) {
		return nil, fmt.Errorf("%w: %s (supported: postgres, mysql, sqlite)", ErrUnsupportedDialect, dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func supported(dialect string) bool {
	switch dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		return true
	}
	return false
}

// Load 读取某个数据库类型的全部迁移，按版本升序
func Load(dialect string) ([]Migration, error) {
	if !supported(dialect) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}

	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		var version, direction string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			version, direction = strings.TrimSuffix(name, ".up.sql"), "up"
		case strings.HasSuffix(name, ".down.sql"):
			version, direction = strings.TrimSuffix(name, ".down.sql"), "down"
		default:
			continue
		}

		content, err := fs.ReadFile(migrationsFS, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up script", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrator 执行迁移
type Migrator struct {
	db      *sql.DB
	dialect string
	log     *zap.Logger
}

// NewMigrator 创建迁移器
func NewMigrator(db *sql.DB, dialect string, log *zap.Logger) (*Migrator, error) {
	if !supported(dialect) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{db: db, dialect: dialect, log: log}, nil
}

func (m *Migrator) placeholder(n int) string {
	if m.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    VARCHAR(128) NOT NULL PRIMARY KEY,
    applied_at VARCHAR(64)  NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Applied 返回已执行的版本，升序
func (m *Migrator) Applied(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Up 执行所有未执行的迁移，返回本次执行的版本
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	migrations, err := Load(m.dialect)
	if err != nil {
		return nil, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var ran []string
	for _, mig := range migrations {
		if done[mig.Version] {
			continue
		}
		if err := m.exec(ctx, mig.Version, mig.Up); err != nil {
			return ran, err
		}
		record := fmt.Sprintf("INSERT INTO schema_migrations (version, applied_at) VALUES (%s, %s)",
			m.placeholder(1), m.placeholder(2))
		if _, err := m.db.ExecContext(ctx, record, mig.Version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return ran, fmt.Errorf("record migration %s: %w", mig.Version, err)
		}
		m.log.Info("migration applied", zap.String("version", mig.Version))
		ran = append(ran, mig.Version)
	}
	return ran, nil
}

// Down 回滚最近一次迁移
func (m *Migrator) Down(ctx context.Context) (string, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", ErrNothingToRevert
	}
	last := applied[len(applied)-1]

	migrations, err := Load(m.dialect)
	if err != nil {
		return "", err
	}
	var script string
	for _, mig := range migrations {
		if mig.Version == last {
			script = mig.Down
		}
	}
	if script == "" {
		return "", fmt.Errorf("migration %s has no down script", last)
	}

	if err := m.exec(ctx, last, script); err != nil {
		return "", err
	}
	remove := fmt.Sprintf("DELETE FROM schema_migrations WHERE version = %s", m.placeholder(1))
	if _, err := m.db.ExecContext(ctx, remove, last); err != nil {
		return "", fmt.Errorf("unrecord migration %s: %w", last, err)
	}
	m.log.Info("migration reverted", zap.String("version", last))
	return last, nil
}

// exec 逐条执行脚本中的语句（MySQL 驱动默认不支持多语句）
func (m *Migrator) exec(ctx context.Context, version, script string) error {
	for i, stmt := range splitStatements(script) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s statement %d: %w", version, i+1, err)
		}
	}
	return nil
}

// splitStatements 去掉整行注释后按分号分割，忽略字符串中的分号
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	script = strings.Join(lines, "\n")

	var (
		statements []string
		current    strings.Builder
		inString   bool
		quote      rune
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, r := range script {
		switch {
		case r == '\'' || r == '"' || r == '`':
			if !inString {
				inString, quote = true, r
			} else if r == quote {
				inString = false
			}
			current.WriteRune(r)
		case r == ';' && !inString:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return statements
}
