package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// Format is "console" or "json".
	Format string
	// FilePath, when set, adds a rotating JSON file output.
	FilePath string

	// Output replaces stdout for the primary core. Used by tests.
	Output io.Writer
}

// New builds the process logger. When FilePath is set the file core is teed
// next to the primary output.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(orDefault(opts.Level, "info"))))
	if err != nil {
		return nil, fmt.Errorf("logger: parse level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var primary zapcore.Encoder
	switch strings.ToLower(orDefault(opts.Format, "json")) {
	case "json":
		primary = jsonEncoder
	case "console":
		primary = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", opts.Format)
	}

	var out zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if opts.Output != nil {
		out = zapcore.AddSync(opts.Output)
	}
	cores := []zapcore.Core{zapcore.NewCore(primary, out, level)}

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
