package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "pf")).Info(context.Background(), "decided",
		Int("action", 3),
		Uint64("frame", 7),
	)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "decided", rec["msg"])
	assert.Equal(t, "pf", rec["component"])
	assert.EqualValues(t, 3, rec["action"])
	assert.EqualValues(t, 7, rec["frame"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "text", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestPrettyLoggerUsesConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "pretty", Output: &buf})

	log.Info(context.Background(), "frame committed", Int("action", 2))

	out := buf.String()
	assert.Contains(t, out, "frame committed")
	assert.Contains(t, out, "action=2")
	assert.False(t, strings.HasPrefix(out, "{"), "pretty output should not be JSON")
}

func TestWithFrameLoggerStoresLoggerOnContext(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, frameLog := WithFrameLogger(context.Background(), base, 42)
	require.Same(t, frameLog, FromContext(ctx, nil))

	FromContext(ctx, nil).Info(ctx, "hello")
	assert.Contains(t, buf.String(), `"frame":42`)
}

func TestFromContextFallsBack(t *testing.T) {
	fallback := Noop()
	assert.Equal(t, fallback, FromContext(context.Background(), fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	require.NotEmpty(t, id)

	_, again := EnsureRequestID(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, id, RequestIDFromContext(ctx))
}
