package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug", Format: FormatJSON}, &buf)
	l.Debug().Str("k", "v").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "v", line["k"])
	assert.Equal(t, "amethyst", line["service"])
	assert.Contains(t, line, "time")
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn"}, &buf)
	l.Info().Msg("skipped")
	assert.Empty(t, buf.String())

	l = NewWithWriter(Config{Level: "nonsense"}, &buf)
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestWithRequest(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(Config{Level: "info"}, &buf)

	ctx, _ := WithRequest(context.Background(), base, "rid-1", "GET", "/api/x", "127.0.0.1")
	ctx = WithAgent(ctx, "u1")
	zerolog.Ctx(ctx).Info().Msg("in request")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "rid-1", line["request_id"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/api/x", line["path"])
	assert.Equal(t, "u1", line["agent_id"])
}
