package trace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"notifyhub/pkg/trace"
)

func TestWithContextRoundTrip(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "abc-123")
	assert.Equal(t, "abc-123", trace.FromContext(ctx))
}

func TestFromContextEmptyWithoutTrace(t *testing.T) {
	assert.Empty(t, trace.FromContext(context.Background()))
}

func TestEnsureTraceID(t *testing.T) {
	ctx := trace.EnsureTraceID(context.Background())
	id := trace.FromContext(ctx)
	assert.NotEmpty(t, id)

	// An existing trace id is kept.
	ctx2 := trace.EnsureTraceID(ctx)
	assert.Equal(t, id, trace.FromContext(ctx2))
	assert.Equal(t, ctx, ctx2)
}

func TestGenerateTraceIDUnique(t *testing.T) {
	a := trace.GenerateTraceID()
	b := trace.GenerateTraceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
