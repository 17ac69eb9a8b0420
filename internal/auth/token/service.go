// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meridianhq/meridian/internal/auth/keys"
	"github.com/meridianhq/meridian/internal/platform/constants"
	"github.com/meridianhq/meridian/internal/platform/sec"
	"github.com/meridianhq/meridian/pkg/uuid"
)

// # Dependencies

// KeyProvider is the slice of the key manager the token service needs.
type KeyProvider interface {
	SigningKey() (*keys.KeyPair, error)
	VerificationKey(keyID string) (*rsa.PublicKey, error)
}

// # Service

// Config carries the token service's tunables.
type Config struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration

	// LegacySecret enables HS256 verification for tokens minted before the
	// asymmetric migration. Leave empty to refuse HS256 outright. Signing
	// never uses it.
	LegacySecret []byte
}

// Service signs and verifies portal tokens.
type Service struct {
	keys         KeyProvider
	issuer       string
	audience     string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	leeway       time.Duration
	legacySecret []byte
	validMethods []string
	logger       *slog.Logger
}

// NewService constructs a token service backed by the given key provider.
func NewService(keyProvider KeyProvider, config Config, logger *slog.Logger) *Service {
	validMethods := []string{string(keys.AlgPS256), string(keys.AlgRS256)}
	if len(config.LegacySecret) > 0 {
		validMethods = append(validMethods, "HS256")
	}

	return &Service{
		keys:         keyProvider,
		issuer:       config.Issuer,
		audience:     config.Audience,
		accessTTL:    config.AccessTTL,
		refreshTTL:   config.RefreshTTL,
		leeway:       config.Leeway,
		legacySecret: config.LegacySecret,
		validMethods: validMethods,
		logger:       logger,
	}
}

// # Issuing

// BindingContext is the client context a token is bound to at issue time and
// checked against at verification time.
type BindingContext struct {
	IP        string
	UserAgent string
}

// Identity is the user snapshot embedded into access and privileged tokens
// so the middleware can rebuild the principal without a database read.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Issued is the result of signing one token.
type Issued struct {
	Token       string
	JTI         string
	ExpiresAt   time.Time
	TokenFamily string
}

/*
IssueAccess signs a new access token.

Parameters:
  - identity: Token subject plus the profile snapshot embedded in the claims.
  - sessionID: Server-side session the token belongs to.
  - binding: Client IP and user agent to bind to (hashed, never embedded raw).
  - level: Binding enforcement level; access tokens normally use soft.

Returns:
  - *Issued: Signed token with its fresh JTI
  - error: Signing failures (including no active key)
*/
func (service *Service) IssueAccess(identity Identity, sessionID string, binding BindingContext, level sec.BindingLevel) (*Issued, error) {
	now := time.Now()
	expiresAt := now.Add(service.accessTTL)

	claims := &Claims{
		RegisteredClaims: service.registered(identity.UserID, now, expiresAt),
		Type:             TypeAccess,
		SessionID:        sessionID,
		Email:            identity.Email,
		Name:             identity.Name,
		IPHash:           sec.BindingHash(binding.IP),
		UAHash:           sec.BindingHash(binding.UserAgent),
		BindingLevel:     level,
	}

	return service.sign(claims, expiresAt)
}

/*
IssueRefresh signs a new refresh token.

Description: Refresh tokens carry no context hashes; their binding is
enforced through the session record at rotation time. A non-empty family
chains the token to an existing rotation lineage, an empty family starts a
new one.

Returns:
  - *Issued: Signed token; TokenFamily is always populated
  - error: Signing failures
*/
func (service *Service) IssueRefresh(userID, sessionID, family string) (*Issued, error) {
	if family == "" {
		family = uuid.New()
	}

	now := time.Now()
	expiresAt := now.Add(service.refreshTTL)

	claims := &Claims{
		RegisteredClaims: service.registered(userID, now, expiresAt),
		Type:             TypeRefresh,
		SessionID:        sessionID,
		TokenFamily:      family,
	}

	issued, err := service.sign(claims, expiresAt)
	if err != nil {
		return nil, err
	}
	issued.TokenFamily = family

	return issued, nil
}

// IssuePrivileged signs a short-lived token for sensitive operations.
// Privileged tokens are always strictly bound to the issuing client context.
func (service *Service) IssuePrivileged(identity Identity, sessionID string, binding BindingContext, scopes []string) (*Issued, error) {
	now := time.Now()
	expiresAt := now.Add(constants.PrivilegedTokenTTL)

	claims := &Claims{
		RegisteredClaims: service.registered(identity.UserID, now, expiresAt),
		Type:             TypePrivileged,
		SessionID:        sessionID,
		Email:            identity.Email,
		Name:             identity.Name,
		IPHash:           sec.BindingHash(binding.IP),
		UAHash:           sec.BindingHash(binding.UserAgent),
		BindingLevel:     sec.BindingStrict,
		Scopes:           scopes,
	}

	return service.sign(claims, expiresAt)
}

// registered builds the standard claim set shared by all variants.
func (service *Service) registered(userID string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.New(),
		Subject:   userID,
		Issuer:    service.issuer,
		Audience:  jwt.ClaimStrings{service.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

// sign serializes and signs the claims with the active key, stamping the
// key ID into the JWS header for verification routing.
func (service *Service) sign(claims *Claims, expiresAt time.Time) (*Issued, error) {
	pair, err := service.keys.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("token: no signing key available: %w", err)
	}

	method, err := signingMethod(pair.Algorithm)
	if err != nil {
		return nil, err
	}

	jwtToken := jwt.NewWithClaims(method, claims)
	jwtToken.Header["kid"] = pair.KeyID

	signed, err := jwtToken.SignedString(pair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("token: signing failed: %w", err)
	}

	return &Issued{
		Token:     signed,
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func signingMethod(algorithm keys.Algorithm) (jwt.SigningMethod, error) {
	switch algorithm {
	case keys.AlgPS256:
		return jwt.SigningMethodPS256, nil
	case keys.AlgRS256:
		return jwt.SigningMethodRS256, nil
	default:
		return nil, fmt.Errorf("token: unsupported signing algorithm %q", algorithm)
	}
}

// # Verification

// Verified is the outcome of a successful verification.
type Verified struct {
	Claims *Claims
	KeyID  string

	// SoftMismatch is set when a soft-bound token was presented from a
	// different context than it was issued to. The request proceeds; the
	// risk engine treats this as a session-anomaly signal.
	SoftMismatch bool
}

/*
Verify checks a token string end to end.

Description: Signature and registered-claim validation run first (valid
methods, issuer, audience, expiry with leeway), then the variant check, then
context binding. All failures map onto the package sentinels; callers must
not leak which one tripped across the network.

Parameters:
  - tokenString: The compact JWS.
  - expected: Which variant the caller requires.
  - binding: Current client context; nil skips the binding check entirely.

Returns:
  - *Verified: Claims plus binding verdict
  - error: One of ErrInvalidToken, ErrTokenExpired, ErrWrongType,
    ErrBindingMismatch
*/
func (service *Service) Verify(tokenString string, expected Type, binding *BindingContext) (*Verified, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, service.keyFunc,
		jwt.WithValidMethods(service.validMethods),
		jwt.WithIssuer(service.issuer),
		jwt.WithAudience(service.audience),
		jwt.WithLeeway(service.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongType, claims.Type, expected)
	}

	verified := &Verified{Claims: claims}
	if kid, ok := parsed.Header["kid"].(string); ok {
		verified.KeyID = kid
	}

	if binding != nil {
		if err := service.checkBinding(claims, binding, verified); err != nil {
			return nil, err
		}
	}

	return verified, nil
}

// checkBinding compares the token's issue-time context hashes against the
// presenting client.
func (service *Service) checkBinding(claims *Claims, binding *BindingContext, verified *Verified) error {
	level := claims.BindingLevel
	if level == "" || level == sec.BindingDisabled {
		return nil
	}

	ipMismatch := claims.IPHash != "" && claims.IPHash != sec.BindingHash(binding.IP)
	uaMismatch := claims.UAHash != "" && claims.UAHash != sec.BindingHash(binding.UserAgent)
	if !ipMismatch && !uaMismatch {
		return nil
	}

	if level == sec.BindingStrict {
		return fmt.Errorf("%w: ip=%t ua=%t", ErrBindingMismatch, ipMismatch, uaMismatch)
	}

	// Soft binding: succeed, but surface the drift.
	verified.SoftMismatch = true
	service.logger.Warn("token_soft_binding_mismatch",
		slog.String("jti", claims.ID),
		slog.String("session_id", claims.SessionID),
		slog.Bool("ip_mismatch", ipMismatch),
		slog.Bool("ua_mismatch", uaMismatch),
	)

	return nil
}

// keyFunc routes verification to the right key material based on the JWS
// header: kid-addressed RSA keys for PS256/RS256, the shared legacy secret
// for HS256.
func (service *Service) keyFunc(jwtToken *jwt.Token) (any, error) {
	switch jwtToken.Method.(type) {
	case *jwt.SigningMethodRSAPSS, *jwt.SigningMethodRSA:
		kid, ok := jwtToken.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token: missing kid header")
		}
		return service.keys.VerificationKey(kid)
	case *jwt.SigningMethodHMAC:
		if len(service.legacySecret) == 0 {
			return nil, errors.New("token: HS256 not enabled")
		}
		return service.legacySecret, nil
	default:
		return nil, fmt.Errorf("token: unexpected signing method %v", jwtToken.Header["alg"])
	}
}
