package log

import (
	"context"
	"testing"

	"MsgBridge/internal/conf"

	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZapLogger_JSONFormat(t *testing.T) {
	logger, err := NewZapLogger(&conf.Log{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("logger smoke test")
}

func TestNewZapLogger_ConsoleFormat(t *testing.T) {
	logger, err := NewZapLogger(&conf.Log{Level: "debug", Format: "console", Env: "development"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger(&conf.Log{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestNewZapLogger_NilConfig(t *testing.T) {
	_, err := NewZapLogger(nil)
	assert.Error(t, err)
}

func TestKratosAdapter_PairedKeyvals(t *testing.T) {
	logger, err := NewZapLogger(&conf.Log{Level: "debug", Format: "json"})
	require.NoError(t, err)

	adapter := NewKratosAdapter(logger)
	assert.NoError(t, adapter.Log(klog.LevelInfo, "msg", "hello", "deposition_id", "D_000001"))
	// Odd trailing key is dropped rather than panicking.
	assert.NoError(t, adapter.Log(klog.LevelInfo, "msg", "hello", "dangling"))
	assert.NoError(t, adapter.Log(klog.LevelInfo))
}

func TestGenerateRequestID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		assert.Len(t, id, 10)
		assert.False(t, seen[id], "request ids should not repeat in practice")
		seen[id] = true
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc123defg")
	assert.Equal(t, "abc123defg", GetRequestID(ctx))

	assert.Equal(t, "unknown", GetRequestID(context.Background()))
	assert.Equal(t, "unknown", GetRequestID(nil)) //nolint:staticcheck
}
