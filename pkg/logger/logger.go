package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirrors the logging section of the application configuration.
type Options struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func NewLogger(environment string) (*zap.Logger, error) {
	return NewLoggerWithOptions(environment, Options{})
}

// NewLoggerWithOptions builds the application logger. Console output always;
// rotated file output when a file path is configured.
func NewLoggerWithOptions(environment string, opts Options) (*zap.Logger, error) {
	var encoderConfig zapcore.EncoderConfig
	var consoleEncoder zapcore.Encoder

	if environment == "production" {
		encoderConfig = zap.NewProductionEncoderConfig()
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if opts.Level != "" {
		_ = level.UnmarshalText([]byte(opts.Level))
	}
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		_ = level.UnmarshalText([]byte(envLevel))
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
	}

	if opts.FilePath != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(fileWriter), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
