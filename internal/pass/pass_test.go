package pass

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_TokenRoundTrip(t *testing.T) {
	g := NewGenerator("pass-secret")
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	token, err := g.Token(Claims{EventID: "e1", UserID: "u2", IssuedAt: issued})
	require.NoError(t, err)

	c, err := g.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "e1", c.EventID)
	assert.Equal(t, "u2", c.UserID)
	assert.True(t, issued.Equal(c.IssuedAt))
}

func TestGenerator_RejectsForeignAndTampered(t *testing.T) {
	token, err := NewGenerator("a").Token(Claims{EventID: "e1", UserID: "u1"})
	require.NoError(t, err)

	_, err = NewGenerator("b").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidPass)

	flipped := []byte(token)
	if flipped[0] == 'A' {
		flipped[0] = 'B'
	} else {
		flipped[0] = 'A'
	}
	_, err = NewGenerator("a").Verify(string(flipped))
	assert.ErrorIs(t, err, ErrInvalidPass)

	_, err = NewGenerator("a").Verify("not base64 !!")
	assert.ErrorIs(t, err, ErrInvalidPass)
}

func TestGenerator_PNG(t *testing.T) {
	png, err := NewGenerator("s").PNG(Claims{EventID: "e1", UserID: "u1"}, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
