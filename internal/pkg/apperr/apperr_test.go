package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("order: not found")

func TestWrapKeepsSentinelReachable(t *testing.T) {
	err := fmt.Errorf("cancel: %w", Wrap(KindNotFound, errSentinel, "Order not found"))

	assert.True(t, errors.Is(err, errSentinel))
	assert.Equal(t, KindNotFound, KindOf(err))

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "Order not found", e.Message)
}

func TestUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("dial tcp: refused")))
	assert.True(t, Is(Internal(errors.New("x")), KindInternal))
	assert.False(t, Is(nil, KindInternal))
}

func TestWithDetailsCopies(t *testing.T) {
	base := Conflict("Insufficient stock for SKU A")
	withSKU := base.WithDetails(map[string]any{"sku": "A"})

	assert.Nil(t, base.Details)
	assert.Equal(t, "A", withSKU.Details["sku"])
	assert.Equal(t, "Insufficient stock for SKU A", withSKU.Error())
}
