package sessionctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithSessionIDRoundTrip(t *testing.T) {
	ctx := WithSessionID(context.Background(), "0190c0de")
	assert.Equal(t, "0190c0de", SessionIDFromContext(ctx))
}

func TestSessionIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, SessionIDFromContext(context.Background()))
}

func TestWithSessionID_Overwrite(t *testing.T) {
	ctx := WithSessionID(context.Background(), "first")
	ctx = WithSessionID(ctx, "second")
	assert.Equal(t, "second", SessionIDFromContext(ctx))
}
