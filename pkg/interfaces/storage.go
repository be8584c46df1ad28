package interfaces

import (
	"context"
)

// StoragePort определяет интерфейс для работы с постоянным хранилищем данных
// Реализация может использовать любую базу данных (PostgreSQL, MySQL, MongoDB и т.д.)
type StoragePort interface {
	// Migrate создает схему хранилища, если ее нет
	Migrate(ctx context.Context) error

	// Ping проверяет доступность хранилища
	Ping(ctx context.Context) error

	// Close закрывает соединение с хранилищем
	Close() error
}
