package tx

import (
	"context"
	"fmt"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txKey - ключ для хранения транзакции в контексте. Используем приватный тип, чтобы избежать коллизий.
type txKeyType struct{}

var txKey = txKeyType{}

// TxManager управляет жизненным циклом транзакций БД.
type TxManager interface {
	// Do выполняет переданную функцию `fn` внутри транзакции.
	// Если `fn` возвращает ошибку, транзакция откатывается, иначе фиксируется.
	// Контекст, передаваемый в `fn`, содержит саму транзакцию.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Executor общий набор методов пула и транзакции
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgxTxManager - реализация TxManager для pgx.
type pgxTxManager struct {
	pool   *pgxpool.Pool
	logger interfaces.LoggerPort
}

// NewTxManager создает новый менеджер транзакций.
func NewTxManager(pool *pgxpool.Pool, logger interfaces.LoggerPort) TxManager {
	return &pgxTxManager{pool: pool, logger: logger}
}

// Do реализует метод интерфейса TxManager. Вложенный вызов переиспользует внешнюю транзакцию.
func (m *pgxTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := GetTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx.Begin failed: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	// Rollback после Commit возвращает ErrTxClosed и ничего не делает
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(txCtx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			m.logger.Warn("Не удалось откатить транзакцию",
				interfaces.LogField{Key: "rollback_error", Value: rollbackErr.Error()},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx.Commit failed: %w", err)
	}

	return nil
}

// GetTxFromContext извлекает транзакцию из контекста.
func GetTxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

// ExecutorFrom возвращает транзакцию из контекста или пул, если транзакции нет
func ExecutorFrom(ctx context.Context, pool *pgxpool.Pool) Executor {
	if tx, ok := GetTxFromContext(ctx); ok {
		return tx
	}
	return pool
}
