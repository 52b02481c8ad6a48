package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler_StampsRequestAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "checkout-api")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = With(ctx, slog.String("order_id", "o1"))
	log.With("component", "test").InfoContext(ctx, "hello", "status", "PAID")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-42", rec["request_id"])
	assert.Equal(t, "o1", rec["order_id"])
	assert.Equal(t, "checkout-api", rec["service"])
	assert.Equal(t, "test", rec["component"])
	assert.Equal(t, "PAID", rec["status"])
}
