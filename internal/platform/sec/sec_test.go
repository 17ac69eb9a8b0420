// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package sec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBindingHashProperties(t *testing.T) {
	first := BindingHash("203.0.113.7")
	second := BindingHash("203.0.113.7")
	other := BindingHash("203.0.113.8")

	assert.Equal(t, first, second, "same input hashes identically")
	assert.NotEqual(t, first, other)
	assert.Len(t, first, BindingHashLength)
}

func TestBindingHashEmptyStaysEmpty(t *testing.T) {
	// An absent attribute must never match a present one.
	assert.Empty(t, BindingHash(""))
	assert.NotEmpty(t, BindingHash(" "))
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("correct horse battery staple", hash))
	assert.False(t, CheckPasswordHash("Correct horse battery staple", hash))
	assert.False(t, CheckPasswordHash("", hash))
}

func TestCheckPasswordHashAcceptsLegacyCost(t *testing.T) {
	// Hashes minted before the cost bump keep verifying.
	legacy, err := bcrypt.GenerateFromPassword([]byte("old password"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("old password", string(legacy)))
}

func TestCheckPasswordHashRejectsGarbageHash(t *testing.T) {
	assert.False(t, CheckPasswordHash("anything", "not-a-bcrypt-hash"))
	assert.False(t, CheckPasswordHash("anything", ""))
}

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ascii case folding", "User@Example.COM", "user@example.com"},
		{"surrounding whitespace", "  ana@meridian.app  ", "ana@meridian.app"},
		{"already normalized", "ana@meridian.app", "ana@meridian.app"},
		{"fullwidth forms", "Ｕser@example.com", "user@example.com"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, NormalizeIdentifier(test.input))
		})
	}
}

func TestNormalizeIdentifierIsIdempotent(t *testing.T) {
	once := NormalizeIdentifier("User@Example.COM")
	assert.Equal(t, once, NormalizeIdentifier(once))
}

func TestGenerateSecureTokenLengthAndUniqueness(t *testing.T) {
	first, err := GenerateSecureToken(32)
	require.NoError(t, err)
	second, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, first, 43, "32 bytes base64url-encode to 43 characters")
}
