package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestIndentCorePrefixesMessages(t *testing.T) {
	t.Parallel()

	obs, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(NewIndentCore(obs))

	logger.Info("root")
	logger.Info("child", Depth(2), zap.String("person_id", "42"))
	logger.With(Depth(1)).Info("scoped", Depth(1))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, "root", entries[0].Message)
	assert.NotContains(t, entries[0].ContextMap(), DepthKey)

	assert.Equal(t, ". . child", entries[1].Message)
	assert.Equal(t, int64(2), entries[1].ContextMap()[DepthKey])
	assert.Equal(t, "42", entries[1].ContextMap()["person_id"])

	assert.Equal(t, ". . scoped", entries[2].Message, "bound and per-call depths add up")
	assert.Equal(t, int64(2), entries[2].ContextMap()[DepthKey])
}

func TestIndentCoreRespectsLevel(t *testing.T) {
	t.Parallel()

	obs, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(NewIndentCore(obs))

	logger.Info("dropped", Depth(1))
	logger.Warn("kept", Depth(1))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, ". kept", logs.All()[0].Message)
}
