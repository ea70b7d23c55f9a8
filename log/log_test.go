package log

import (
	"os"
	"testing"

	zaplog "github.com/pingcap/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestStringToZapLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.FatalLevel, StringToZapLogLevel("fatal"))
	assert.Equal(t, zapcore.ErrorLevel, StringToZapLogLevel("ERROR"))
	assert.Equal(t, zapcore.WarnLevel, StringToZapLogLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, StringToZapLogLevel("warning"))
	assert.Equal(t, zapcore.DebugLevel, StringToZapLogLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, StringToZapLogLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, StringToZapLogLevel("whatever"))
}

func TestLevelFromEnv(t *testing.T) {
	old, had := os.LookupEnv("LOG_LEVEL")
	defer func() {
		if had {
			os.Setenv("LOG_LEVEL", old)
		} else {
			os.Unsetenv("LOG_LEVEL")
		}
	}()

	os.Unsetenv("LOG_LEVEL")
	assert.Equal(t, "info", LevelFromEnv("info"))
	os.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, "debug", LevelFromEnv("info"))
}

func TestInitLogger(t *testing.T) {
	cfg := &zaplog.Config{Level: "warn"}
	require.NoError(t, InitLogger(cfg))
	assert.Equal(t, "warn", cfg.Level)

	cfg = &zaplog.Config{Level: "info", File: zaplog.FileLogConfig{Filename: t.Name() + ".log"}}
	defer os.Remove(cfg.File.Filename)
	require.NoError(t, InitLogger(cfg))
	zaplog.Info("logger initialised")
}
