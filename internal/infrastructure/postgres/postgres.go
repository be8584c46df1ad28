package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool создает пул соединений по настройкам postgres и проверяет доступность БД
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pg := cfg.Postgres
	connStr, err := utils.GenerateConnectionString(utils.ConnParams{
		Host:     pg.Host,
		Port:     pg.Port,
		User:     pg.User,
		Password: pg.Password,
		DBName:   pg.DBName,
		SSLMode:  pg.SSLMode,
		PoolSize: pg.PoolSize,
		Timeout:  pg.Timeout,
		AppName:  cfg.AppName,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	pingCtx := ctx
	if pg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, pg.Timeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}
