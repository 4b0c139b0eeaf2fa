package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zap.DebugLevel))
	require.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestNewCLILoggerLevels(t *testing.T) {
	t.Parallel()

	quiet, err := NewCLI(false)
	require.NoError(t, err)
	require.False(t, quiet.Core().Enabled(zap.InfoLevel))
	require.True(t, quiet.Core().Enabled(zap.WarnLevel))

	verbose, err := NewCLI(true)
	require.NoError(t, err)
	require.True(t, verbose.Core().Enabled(zap.DebugLevel))
}
