// Package log wires the process-wide structured logger.
//
// Every package logs through github.com/pingcap/log with zap fields. This package only decides
// where those lines go and at which level: the level comes from configuration and can be
// overridden with the environment variable `LOG_LEVEL`.
package log

import (
	"os"
	"runtime/debug"
	"strings"

	zaplog "github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogLevel = "info"

// LevelFromEnv returns the level named by `LOG_LEVEL`, or def when it is unset.
func LevelFromEnv(def string) string {
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		return l
	}
	return def
}

// StringToZapLogLevel translates a level name into a zap level. Unknown names map to info.
func StringToZapLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "fatal":
		return zapcore.FatalLevel
	case "error":
		return zapcore.ErrorLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	}
	return zapcore.InfoLevel
}

// InitLogger builds a logger from cfg and installs it as the global logger.
func InitLogger(cfg *zaplog.Config) error {
	if cfg.Level == "" {
		cfg.Level = LevelFromEnv(defaultLogLevel)
	}
	lg, props, err := zaplog.InitLogger(cfg, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	zaplog.ReplaceGlobals(lg, props)
	return nil
}

// SetLevelByString changes the level of the global logger.
func SetLevelByString(level string) {
	zaplog.SetLevel(StringToZapLogLevel(level))
}

// LogPanic logs the panic reason and stack, then exits the process. It is meant to be deferred
// at the top of main.
func LogPanic() {
	if e := recover(); e != nil {
		zaplog.Fatal("panic", zap.Reflect("recover", e), zap.ByteString("stack", debug.Stack()))
	}
}
