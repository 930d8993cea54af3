package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"linkgate/backend/internal/config"
)

// OpenWithType 根据数据库类型创建存储实例
//
// postgres 走 pgx 连接池，mysql 与 sqlite 直接交给 GORM 驱动。
func OpenWithType(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	opts := Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		AutoMigrate:     cfg.AutoMigrate,
	}

	switch cfg.Type {
	case "postgres":
		client, err := New(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		store, err := NewStore(client, opts)
		if err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	case "mysql":
		return NewMySQLStore(cfg.DSN, opts)
	case "sqlite":
		return NewSQLiteStore(cfg.DSN, opts)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: postgres, mysql, sqlite)", cfg.Type)
	}
}
