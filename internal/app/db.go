package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	cfgpkg "github.com/codeisall/charge-broker/internal/config"
	"github.com/codeisall/charge-broker/internal/migrate"
	pgstorage "github.com/codeisall/charge-broker/internal/storage/pg"
)

// ConnectDB 建立 pgx 连接池并应用未执行的迁移（巡检/轮询的有界扫描走这里）
func ConnectDB(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	dbpool, err := pgstorage.NewPool(ctx, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, log)
	if err != nil {
		if log != nil {
			log.Error("db connect error", zap.Error(err))
		}
		return nil, err
	}

	if cfg.MigrationsDir != "" {
		if err := (migrate.Runner{Dir: cfg.MigrationsDir, Logger: log}).Up(ctx, dbpool); err != nil {
			dbpool.Close()
			if log != nil {
				log.Error("db migrate error", zap.Error(err), zap.String("dir", cfg.MigrationsDir))
			}
			return nil, err
		}
		if log != nil {
			log.Info("db migrations applied", zap.String("dir", cfg.MigrationsDir))
		}
	}
	return dbpool, nil
}

// OpenGorm 打开 GORM 连接（订单业务写路径走这里）
func OpenGorm(cfg cfgpkg.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}
