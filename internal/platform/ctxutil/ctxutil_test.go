// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package ctxutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridianhq/meridian/internal/platform/sec"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "0195c9a2-7d6e-7cc3-9b6a-5b7f1a2b3c4d")
	assert.Equal(t, "0195c9a2-7d6e-7cc3-9b6a-5b7f1a2b3c4d", GetRequestID(ctx))
}

func TestRequestIDMissingIsEmpty(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestLoggerFallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), GetLogger(context.Background()))

	scoped := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, GetLogger(ctx))
}

func TestPrincipalRoundTrip(t *testing.T) {
	assert.Nil(t, GetPrincipal(context.Background()), "anonymous context has no principal")

	principal := &sec.Principal{UserID: "user-1", SessionID: "session-1"}
	ctx := WithPrincipal(context.Background(), principal)
	assert.Same(t, principal, GetPrincipal(ctx))
}
