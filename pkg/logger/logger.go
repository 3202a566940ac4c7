// Package logger предоставляет структурированное логирование на базе zerolog.
// JSON формат для production, pretty-print для локальной разработки.
// Все сообщения логов пишутся на русском языке.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — глобальный экземпляр логгера.
var log zerolog.Logger

// Config содержит настройки для инициализации логгера.
type Config struct {
	// Level — минимальный уровень: "trace", "debug", "info", "warn", "error".
	// Неизвестное значение трактуется как "info".
	Level string

	// Pretty включает читаемый цветной вывод вместо JSON.
	Pretty bool

	// Output — куда писать логи. По умолчанию os.Stdout.
	Output io.Writer

	// Service добавляется полем service в каждую запись, если задан.
	Service string
}

// init настраивает логгер из LOG_LEVEL / LOG_PRETTY, чтобы пакет был
// пригоден к работе до загрузки полной конфигурации.
func init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{
		Level:  level,
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init (пере)инициализирует глобальный логгер.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := parseLevel(cfg.Level)

	lc := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller()
	if cfg.Service != "" {
		lc = lc.Str("service", cfg.Service)
	}
	log = lc.Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

// parseLevel преобразует строку в zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug создает событие уровня debug.
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info создает событие уровня info.
// Пример: logger.Info().Str("payment_id", id).Msg("Платёж подготовлен")
func Info() *zerolog.Event {
	return log.Info()
}

// Warn создает событие уровня warn.
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error создает событие уровня error.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal создает событие уровня fatal.
// ВНИМАНИЕ: после Msg() процесс завершится с кодом 1.
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// Security создает событие уровня error с пометкой security_event.
// Используется для отказов проверки подписи вебхуков и подобных событий,
// по которым строятся алерты.
func Security() *zerolog.Event {
	return log.Error().Bool("security_event", true)
}

// With создает дочерний логгер с дополнительными полями.
//
//	workerLog := logger.With().Str("worker", "sweeper").Logger()
func With() zerolog.Context {
	return log.With()
}

// Logger возвращает глобальный экземпляр zerolog.Logger.
func Logger() zerolog.Logger {
	return log
}

// SetGlobalLogger заменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) {
	log = l
}
