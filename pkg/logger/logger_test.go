package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextFallsBackToGlobal(t *testing.T) {
	entry := FromContext(context.Background())
	require.NotNil(t, entry)
	assert.Equal(t, L.Logger, entry.Logger)
}

func TestWithLoggerRoundTrip(t *testing.T) {
	custom := logrus.NewEntry(logrus.New()).WithField("component", "test")
	ctx := WithLogger(context.Background(), custom)

	got := FromContext(ctx)
	assert.Equal(t, custom.Logger, got.Logger)
	assert.Equal(t, "test", got.Data["component"])
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())

	require.NoError(t, SetLevel("info"))
	assert.Error(t, SetLevel("not-a-level"))
}

func TestSetFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(L.Logger.Out)

	SetFormat("json")
	defer SetFormat("text")

	L.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
