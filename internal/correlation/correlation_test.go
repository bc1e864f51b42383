package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureKeepsExistingID(t *testing.T) {
	ctx := WithID(context.Background(), "abc-123")
	ctx, id := Ensure(ctx)
	assert.Equal(t, "abc-123", id)
	assert.Equal(t, "abc-123", FromContext(ctx))
}

func TestEnsureGeneratesID(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.Len(t, id, 36)
	assert.Equal(t, id, FromContext(ctx))
}

func TestShort(t *testing.T) {
	assert.Equal(t, "12345678", Short("1234567890"))
	assert.Equal(t, "abc", Short("abc"))
}
