package interfaces

import "context"

// LogLevel определяет уровни логирования
type LogLevel int

const (
	// Уровни логирования от наименее до наиболее важного
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
)

// LogField представляет дополнительное поле в логе
type LogField struct {
	Key   string
	Value interface{}
}

// LoggerPort определяет интерфейс для системы логирования
type LoggerPort interface {
	// Debug логирует сообщение с уровнем Debug
	Debug(msg string, args ...interface{})

	// Info логирует сообщение с уровнем Info
	Info(msg string, args ...interface{})

	// Warn логирует сообщение с уровнем Warn
	Warn(msg string, args ...interface{})

	// Error логирует сообщение с уровнем Error
	Error(msg string, args ...interface{})

	// Fatal логирует сообщение с уровнем Fatal и завершает программу
	Fatal(msg string, args ...interface{})

	// InfoWithContext логирует сообщение с полями из контекста (run_id, request_id)
	InfoWithContext(ctx context.Context, msg string, args ...interface{})

	// ErrorWithContext логирует ошибку с полями из контекста
	ErrorWithContext(ctx context.Context, msg string, args ...interface{})

	// WithFields возвращает новый логгер с добавленными полями
	WithFields(fields ...LogField) LoggerPort

	// WithField возвращает новый логгер с добавленным полем
	WithField(key string, value interface{}) LoggerPort

	// WithMarketplace возвращает логгер адаптера конкретного маркетплейса
	WithMarketplace(marketplace string) LoggerPort

	// WithRunID возвращает логгер прогона синхронизации
	WithRunID(runID string) LoggerPort

	// SetLevel устанавливает минимальный уровень логирования
	SetLevel(level LogLevel)

	// GetLevel возвращает текущий уровень логирования
	GetLevel() LogLevel

	// Sync синхронизирует записи буфера с хранилищем логов
	Sync() error
}

type ctxKey string

// Ключи контекста, которые логгер добавляет в записи
const (
	RunIDKey     ctxKey = "run_id"
	RequestIDKey ctxKey = "request_id"
)

// ContextWithRunID кладет идентификатор прогона в контекст
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// ContextWithRequestID кладет идентификатор HTTP запроса в контекст
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}
