// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package sec

// Principal represents the verified identity attached to a request.
//
// # Why not the raw token claims?
//
// Middleware verifies the access token once and reduces it to this small
// struct, so downstream handlers never touch JWT types and cannot bypass
// the verification path.
type Principal struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
	TokenJTI  string `json:"-"`
}
