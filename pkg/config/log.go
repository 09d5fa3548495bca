package config

import (
	"sync/atomic"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	cfg := zap.NewProductionConfig() // zap.NewDevelopmentConfig()
	cfg.Level = level
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	logger.Store(l)
	viper.SetDefault("log.level", "info")
	RegisterReloadConfigFunc(ReloadLogConfig)
}

func GetLogger() *zap.Logger {
	return logger.Load()
}

// SetLogger replaces the process logger, tests use it to silence or capture output.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// ReloadLogConfig applies log.level; unknown levels keep the current one.
func ReloadLogConfig() error {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		GetLogger().Warn("invalid log level", zap.String("level", viper.GetString("log.level")))
		return nil
	}
	level.SetLevel(lv)
	return nil
}
