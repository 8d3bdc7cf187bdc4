package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Level(t *testing.T) {
	log, level, err := NewLogger(LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	defer log.Sync()
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))

	_, _, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestBindLogLevel_FollowsStore(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	store := NewConfigStore(DefaultConfig())
	BindLogLevel(store, level, zap.NewNop())

	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	require.NoError(t, store.Update(cfg))
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	cfg.Allocator.NumArenas = 1
	require.NoError(t, store.Update(cfg))
	assert.Equal(t, zapcore.DebugLevel, level.Level())
}
