// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/platform/apperr"
)

func TestValidatorCollectsAllFailures(t *testing.T) {
	validator := &Validator{}
	validator.Required("email", "").
		Required("password", "").
		MinLen("password", "", 8)

	err := validator.Err()
	require.Error(t, err)

	var appError *apperr.AppError
	require.True(t, errors.As(err, &appError))
	assert.Equal(t, "VALIDATION_ERROR", appError.Code)
	assert.Len(t, appError.Details, 3)
}

func TestValidatorPassesCleanInput(t *testing.T) {
	validator := &Validator{}
	validator.Required("email", "ana@meridian.app").
		Email("email", "ana@meridian.app").
		MinLen("password", "long enough", 8)

	assert.NoError(t, validator.Err())
	assert.False(t, validator.HasErrors())
}

func TestValidatorUUID(t *testing.T) {
	validator := &Validator{}
	validator.UUID("sessionId", "0195c9a2-7d6e-7cc3-9b6a-5b7f1a2b3c4d")
	assert.NoError(t, validator.Err())

	failing := &Validator{}
	failing.UUID("sessionId", "not-a-uuid")
	assert.Error(t, failing.Err())
}

func TestIsIPv4WithOptionalCIDR(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"192.168.1.10", true},
		{"0.0.0.0", true},
		{"255.255.255.255", true},
		{"10.0.0.0/24", true},
		{"10.0.0.0/32", true},
		{"10.0.0.0/33", false},
		{"256.1.1.1", false},
		{"01.2.3.4", false},
		{"host.example.com", false},
		{"::1", false},
		{"1.2.3", false},
		{"1.2.3.4.5", false},
		{"1.2.3.4; DROP TABLE portal.session", false},
		{"", false},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, IsIPv4WithOptionalCIDR(test.value), "value %q", test.value)
	}
}

func TestSanitizeIP(t *testing.T) {
	assert.Equal(t, "203.0.113.7", SanitizeIP("203.0.113.7"))
	assert.Equal(t, "10.0.0.0/24", SanitizeIP("10.0.0.0/24"))
	assert.Empty(t, SanitizeIP("evil.example.com"))
	assert.Empty(t, SanitizeIP("::1"))
}
