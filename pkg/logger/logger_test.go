package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l := newLogger()

	formatter, ok := l.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.Equal(t, time.RFC3339Nano, formatter.TimestampFormat)
	assert.True(t, formatter.FullTimestamp)
}

func TestGetLogger(t *testing.T) {
	t.Run("falls back to global", func(t *testing.T) {
		entry := G(context.Background())
		assert.Equal(t, L.Logger, entry.Logger)
	})

	t.Run("returns attached logger", func(t *testing.T) {
		custom := logrus.NewEntry(logrus.New()).WithField("component", "discovery")
		ctx := WithLogger(context.Background(), custom)

		entry := G(ctx)
		assert.Equal(t, custom.Logger, entry.Logger)
		assert.Equal(t, "discovery", entry.Data["component"])
	})
}

func TestSetLogLevel(t *testing.T) {
	original := L.Logger.GetLevel()
	defer L.Logger.SetLevel(original)

	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())

	assert.Error(t, SetLogLevel("loud"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())
}

func TestSetLogFormat(t *testing.T) {
	original := L.Logger.Formatter
	defer func() { L.Logger.Formatter = original }()

	SetLogFormat(FormatJSON)
	formatter, ok := L.Logger.Formatter.(*logrus.JSONFormatter)
	require.True(t, ok)
	assert.Equal(t, "timestamp", formatter.FieldMap[logrus.FieldKeyTime])

	SetLogFormat("xml")
	assert.IsType(t, &logrus.TextFormatter{}, L.Logger.Formatter)
}

func TestDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	setLoggerFormat(l, FormatJSON)

	ctx := WithLogger(context.Background(), logrus.NewEntry(l))
	Diagnostics(ctx)("resource rejected", map[string]any{"skill": "pdf", "check": "lexical"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "resource rejected", line["message"])
	assert.Equal(t, "debug", line["logLevel"])
	assert.Equal(t, "pdf", line["skill"])
	assert.Equal(t, "lexical", line["check"])
}
