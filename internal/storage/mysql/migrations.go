package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/deploy/migrations"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

var embeddedMigrations fs.ReadFileFS = migrations.Files

// journalMigration 是一份内嵌的交易日志表结构变更。
type journalMigration struct {
	version    string
	name       string
	statements []string
}

// runMigrations 把交易日志表升级到最新版本，返回本次新应用的版本号。
func runMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	log := logger.Named("mysql")
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	known, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	pending, err := journalMigrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range pending {
		if known[m.version] {
			continue
		}
		started := time.Now()
		if err := applyMigration(ctx, db, m); err != nil {
			log.Error("交易日志迁移失败", slog.String("version", m.version), slog.String("file", m.name), slog.Any("error", err))
			return applied, err
		}
		log.Info("交易日志迁移已应用",
			slog.String("version", m.version),
			slog.String("file", m.name),
			slog.Int("statements", len(m.statements)),
			slog.Duration("elapsed", time.Since(started)))
		applied = append(applied, m.version)
	}
	if len(applied) == 0 {
		log.Debug("交易日志表结构已是最新", slog.Int("versions", len(known)))
	}
	return applied, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		known[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return known, nil
}

// applyMigration 在单个事务内执行一份迁移并登记版本。
func applyMigration(ctx context.Context, db *sql.DB, m journalMigration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

// journalMigrations 读取内嵌的 .sql 文件并按版本排序。
func journalMigrations() ([]journalMigration, error) {
	names, err := fs.Glob(embeddedMigrations, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	out := make([]journalMigration, 0, len(names))
	for _, name := range names {
		content, err := embeddedMigrations.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		out = append(out, journalMigration{
			version:    migrationVersion(name),
			name:       name,
			statements: statements,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].version == out[j].version {
			return out[i].name < out[j].name
		}
		return out[i].version < out[j].version
	})
	return out, nil
}

// splitStatements 按分号切分语句，忽略空语句和 "--" 注释行。
func splitStatements(content string) []string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var statements []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func migrationVersion(name string) string {
	base := strings.TrimSuffix(name, ".sql")
	if idx := strings.IndexByte(base, '_'); idx > 0 {
		return base[:idx]
	}
	return base
}
