package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	tok, err := v.Sign("user-42", "student", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "student", claims.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewVerifier([]byte("secret-a"))
	verifier := NewVerifier([]byte("secret-b"))

	tok, err := issuer.Sign("user-42", "student", time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	tok, err := v.Sign("user-42", "student", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRequestHeaderAndQuery(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	tok, err := v.Sign("user-42", "proctor", time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/monitor/live", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	claims, err := v.VerifyRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)

	r = httptest.NewRequest("GET", "/api/stream?token="+tok, nil)
	claims, err = v.VerifyRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "proctor", claims.Role)

	r = httptest.NewRequest("GET", "/api/stream", nil)
	_, err = v.VerifyRequest(r)
	assert.ErrorIs(t, err, ErrNoToken)
}
