package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	e := Errors{}
	require.NoError(t, e.Err())

	e.Add("montant", "must be at least 100")
	e.Add("devise", "unsupported currency")
	e.Add("montant", "must be a number")
	assert.True(t, e.Has("montant"))
	assert.False(t, e.Has("destinataire"))
	assert.Equal(t, "validation failed: devise: unsupported currency; montant: must be at least 100, must be a number", e.Error())

	wrapped := fmt.Errorf("payment: %w", e.Err())
	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Len(t, got["montant"], 2)

	_, ok = As(fmt.Errorf("plain"))
	assert.False(t, ok)
}
