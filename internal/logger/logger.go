package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/shiena/ansicolor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the process logger. format is "json" (default) or "console";
// console output is coloured.
func New(level, format string) (*zap.Logger, error) {
	zapLevel := parseLevel(level)

	switch format {
	case "console":
		return newConsole(zapLevel, os.Stdout), nil
	case "json", "":
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = "json"
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

func newConsole(level zapcore.Level, w io.Writer) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	// Translates ANSI escapes for consoles that do not understand them.
	out := zapcore.AddSync(ansicolor.NewAnsiColorWriter(w))
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), out, level)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(os.Stderr))))
}
