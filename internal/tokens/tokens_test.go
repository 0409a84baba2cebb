package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return s
}

func TestInspect(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := sign(t, jwt.MapClaims{
		"user_id":  42,
		"username": "student1",
		"role":     "student",
		"exp":      exp.Unix(),
	})

	c, err := Inspect(tok)
	require.NoError(t, err)
	assert.Equal(t, "42", c.UserID)
	assert.Equal(t, "student1", c.Username)
	assert.Equal(t, "student", c.Role)
	assert.True(t, c.ExpiresAt.Equal(exp))
}

func TestInspect_FallbackKeys(t *testing.T) {
	tok := sign(t, jwt.MapClaims{"sub": "u-9", "user_type": "registrar"})

	c, err := Inspect(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-9", c.UserID)
	assert.Equal(t, "registrar", c.Role)
	assert.True(t, c.ExpiresAt.IsZero())
}

func TestInspect_Opaque(t *testing.T) {
	_, err := Inspect("A")
	assert.ErrorIs(t, err, ErrOpaque)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	past := sign(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})
	future := sign(t, jwt.MapClaims{"exp": now.Add(time.Minute).Unix()})

	assert.True(t, Expired(past, now))
	assert.False(t, Expired(future, now))
	assert.False(t, Expired("opaque", now))
	assert.False(t, Expired(sign(t, jwt.MapClaims{"role": "student"}), now))
}
