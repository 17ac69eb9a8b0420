// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

// Package sec provides cryptographic primitives shared across the auth core.
//
// # Architecture
//
// This package isolates security-sensitive helpers (password hashing, client
// binding hashes, identifier normalization) from the domain logic. It holds
// no state and performs no I/O.
package sec

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHashCost is the bcrypt work factor for newly hashed passwords.
//
// Verification accepts hashes produced with legacy (lower) cost values, so
// existing accounts keep working; they are transparently upgraded the next
// time the password changes.
const PasswordHashCost = 12

// HashPassword hashes a plain-text password using the bcrypt algorithm.
func HashPassword(plainTextPassword string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), PasswordHashCost)
	if err != nil {
		return "", fmt.Errorf("sec: failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckPasswordHash compares a plain-text password with its hashed version.
//
// bcrypt's comparison is constant-time, which prevents timing side channels
// from leaking how much of the password matched.
func CheckPasswordHash(plainTextPassword, existingHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(existingHash), []byte(plainTextPassword))
	return err == nil
}
