// control/logging.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"go.uber.org/zap"
)

// NewLogger builds a zap logger for cfg. The returned level can be changed
// at runtime; see BindLogLevel.
func NewLogger(cfg LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, level, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	log, err := zcfg.Build()
	if err != nil {
		return nil, level, err
	}
	return log, level, nil
}

// BindLogLevel makes level follow the [log] section of store.
func BindLogLevel(store *ConfigStore, level zap.AtomicLevel, log *zap.Logger) {
	store.OnReload(func(old, cur Config) {
		if old.Log.Level == cur.Log.Level {
			return
		}
		if err := level.UnmarshalText([]byte(cur.Log.Level)); err != nil {
			log.Warn("ignoring log level", zap.String("level", cur.Log.Level), zap.Error(err))
			return
		}
		log.Info("log level changed", zap.String("from", old.Log.Level), zap.String("to", cur.Log.Level))
	})
}
