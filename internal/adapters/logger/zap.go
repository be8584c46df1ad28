package logger

import (
	"context"
	"io"
	"os"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger адаптер для Zap, реализующий LoggerPort
type ZapLogger struct {
	logger *zap.SugaredLogger
	level  zap.AtomicLevel
}

// Options настройки логгера процесса
type Options struct {
	Level string
	// JSON структурированный вывод для production; иначе консольный с цветом
	JSON bool
	// Output по умолчанию stderr: stdout занят отчетом прогона
	Output io.Writer
}

// NewZapLogger создает процессный логгер на основе Zap
func NewZapLogger(level string, isProduction bool) (interfaces.LoggerPort, error) {
	return New(Options{Level: level, JSON: isProduction})
}

// New собирает логгер по настройкам. Неизвестный уровень трактуется как info
func New(opts Options) (*ZapLogger, error) {
	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if opts.JSON {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if opts.Output != nil {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	return &ZapLogger{logger: zl.Sugar(), level: level}, nil
}

// NewNopLogger логгер, который ничего не пишет; используется в тестах
func NewNopLogger() interfaces.LoggerPort {
	return &ZapLogger{logger: zap.NewNop().Sugar(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

var toZapLevel = map[interfaces.LogLevel]zapcore.Level{
	interfaces.DebugLevel: zapcore.DebugLevel,
	interfaces.InfoLevel:  zapcore.InfoLevel,
	interfaces.WarnLevel:  zapcore.WarnLevel,
	interfaces.ErrorLevel: zapcore.ErrorLevel,
	interfaces.FatalLevel: zapcore.FatalLevel,
	interfaces.PanicLevel: zapcore.PanicLevel,
}

// GetLoggerLevel преобразует строковый уровень логирования в LogLevel
func GetLoggerLevel(levelStr string) interfaces.LogLevel {
	return fromZapLevel(parseLevel(levelStr))
}

func fromZapLevel(l zapcore.Level) interfaces.LogLevel {
	if l == zapcore.DPanicLevel {
		return interfaces.PanicLevel
	}
	for k, v := range toZapLevel {
		if v == l {
			return k
		}
	}
	return interfaces.InfoLevel
}

// convertToZapFields преобразует LogField в zap.Field
func convertToZapFields(args ...interface{}) []interface{} {
	for i, arg := range args {
		if field, ok := arg.(interfaces.LogField); ok {
			args[i] = zap.Any(field.Key, field.Value)
		}
	}
	return args
}

// contextFields run_id и request_id из контекста
func contextFields(ctx context.Context) []interface{} {
	var fields []interface{}
	if runID, ok := ctx.Value(interfaces.RunIDKey).(string); ok {
		fields = append(fields, zap.String("run_id", runID))
	}
	if reqID, ok := ctx.Value(interfaces.RequestIDKey).(string); ok {
		fields = append(fields, zap.String("request_id", reqID))
	}
	return fields
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) {
	z.logger.Debugw(msg, convertToZapFields(args...)...)
}

func (z *ZapLogger) Info(msg string, args ...interface{}) {
	z.logger.Infow(msg, convertToZapFields(args...)...)
}

func (z *ZapLogger) Warn(msg string, args ...interface{}) {
	z.logger.Warnw(msg, convertToZapFields(args...)...)
}

func (z *ZapLogger) Error(msg string, args ...interface{}) {
	z.logger.Errorw(msg, convertToZapFields(args...)...)
}

// Fatal пишет сообщение и завершает процесс с кодом 2
func (z *ZapLogger) Fatal(msg string, args ...interface{}) {
	z.logger.Errorw(msg, convertToZapFields(args...)...)
	_ = z.logger.Sync()
	os.Exit(2)
}

func (z *ZapLogger) InfoWithContext(ctx context.Context, msg string, args ...interface{}) {
	z.logger.Infow(msg, append(convertToZapFields(args...), contextFields(ctx)...)...)
}

func (z *ZapLogger) ErrorWithContext(ctx context.Context, msg string, args ...interface{}) {
	z.logger.Errorw(msg, append(convertToZapFields(args...), contextFields(ctx)...)...)
}

// WithFields дочерний логгер; уровень общий с родителем
func (z *ZapLogger) WithFields(fields ...interfaces.LogField) interfaces.LoggerPort {
	kv := make([]interface{}, 0, len(fields)*2)
	for _, field := range fields {
		kv = append(kv, field.Key, field.Value)
	}
	return &ZapLogger{logger: z.logger.With(kv...), level: z.level}
}

func (z *ZapLogger) WithField(key string, value interface{}) interfaces.LoggerPort {
	return &ZapLogger{logger: z.logger.With(key, value), level: z.level}
}

func (z *ZapLogger) WithMarketplace(marketplace string) interfaces.LoggerPort {
	return z.WithField("marketplace", marketplace)
}

func (z *ZapLogger) WithRunID(runID string) interfaces.LoggerPort {
	return z.WithField("run_id", runID)
}

func (z *ZapLogger) SetLevel(level interfaces.LogLevel) {
	l, ok := toZapLevel[level]
	if !ok {
		l = zapcore.InfoLevel
	}
	z.level.SetLevel(l)
}

func (z *ZapLogger) GetLevel() interfaces.LogLevel {
	return fromZapLevel(z.level.Level())
}

func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}
