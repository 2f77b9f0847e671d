package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Runner 迁移执行器。按 Dir 下 *_up.sql 的数字前缀顺序应用未执行的迁移，
// 已应用版本记录在 schema_migrations 表。
type Runner struct {
	Dir    string
	Logger *zap.Logger
}

type migrationFile struct {
	version int64
	path    string
}

func (r Runner) ensureTable(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`)
	if err != nil {
		return fmt.Errorf("migrate: ensure schema_migrations: %w", err)
	}
	return nil
}

func (r Runner) appliedVersions(ctx context.Context, db *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrate: load applied versions: %w", err)
	}
	defer rows.Close()
	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// discover 扫描 *_up.sql，数字前缀作为版本号，非法前缀跳过
func (r Runner) discover(fsys fs.FS) ([]migrationFile, error) {
	var files []migrationFile
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		if !strings.HasSuffix(name, "_up.sql") {
			return nil
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil
		}
		ver, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return nil
		}
		files = append(files, migrationFile{version: ver, path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// Up 应用所有未执行的向上迁移，每个迁移在独立事务中执行
func (r Runner) Up(ctx context.Context, db *pgxpool.Pool) error {
	if r.Dir == "" {
		return errors.New("migrate: dir is empty")
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := r.ensureTable(ctx, db); err != nil {
		return err
	}
	applied, err := r.appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	migrations, err := r.discover(os.DirFS(r.Dir))
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		content, err := fs.ReadFile(os.DirFS(r.Dir), m.path)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", m.path, err)
		}

		tx, err := db.Begin(ctx)
		if err != nil {
			return err
		}
		_, execErr := tx.Exec(ctx, string(content))
		if execErr == nil {
			_, execErr = tx.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1,$2)`, m.version, time.Now())
		}
		if execErr != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migrate: apply %s: %w", m.path, execErr)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info("migration applied", zap.Int64("version", m.version), zap.String("file", m.path))
		ran++
	}

	if ran == 0 {
		log.Debug("migrations up to date", zap.String("dir", r.Dir))
	}
	return nil
}
