package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokensLookup(t *testing.T) {
	tokens := Tokens{"s3cret": {ID: "42", Name: "ops", Roles: []string{"Admin"}}}

	a, ok := tokens.Lookup("Bearer s3cret")
	assert.True(t, ok)
	assert.Equal(t, "42", a.ID)
	assert.True(t, a.HasRole("admin"))

	_, ok = tokens.Lookup("bearer  s3cret ")
	assert.True(t, ok)
	_, ok = tokens.Lookup("s3cret")
	assert.True(t, ok)
	_, ok = tokens.Lookup("Bearer nope")
	assert.False(t, ok)
	_, ok = tokens.Lookup("")
	assert.False(t, ok)
}

func TestContext(t *testing.T) {
	assert.Equal(t, Guest, FromContext(context.Background()))
	assert.True(t, Guest.IsGuest())

	ctx := WithAgent(context.Background(), Agent{ID: "7"})
	assert.Equal(t, "7", FromContext(ctx).ID)
	assert.False(t, FromContext(ctx).IsGuest())
}
