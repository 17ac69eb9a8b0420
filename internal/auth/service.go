// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meridianhq/meridian/internal/auth/audit"
	"github.com/meridianhq/meridian/internal/auth/session"
	"github.com/meridianhq/meridian/internal/auth/token"
	"github.com/meridianhq/meridian/internal/authz/risk"
	"github.com/meridianhq/meridian/internal/platform/constants"
	"github.com/meridianhq/meridian/internal/platform/sec"
	"github.com/meridianhq/meridian/pkg/uuid"
)

// # Dependencies

// TokenIssuer is the slice of the token service the orchestrator needs.
type TokenIssuer interface {
	IssueAccess(identity token.Identity, sessionID string, binding token.BindingContext, level sec.BindingLevel) (*token.Issued, error)
	IssueRefresh(userID, sessionID, family string) (*token.Issued, error)
	IssuePrivileged(identity token.Identity, sessionID string, binding token.BindingContext, scopes []string) (*token.Issued, error)
	Verify(tokenString string, expected token.Type, binding *token.BindingContext) (*token.Verified, error)
}

// Recorder is the audit sink. Record never fails the caller.
type Recorder interface {
	Record(ctx context.Context, event *audit.Event)
}

// RiskEngine scores authentication context and learns from successes.
type RiskEngine interface {
	Evaluate(ctx context.Context, input risk.Input) *risk.Assessment
	Observe(ctx context.Context, userID, fingerprint, country string)
}

// AttemptCounter tracks failed logins per identifier for brute-force
// scoring. Implemented by the risk package's Redis store.
type AttemptCounter interface {
	Increment(ctx context.Context, identifier string) error
	Reset(ctx context.Context, identifier string) error
}

// # Service

// Service orchestrates login, logout, refresh rotation, and password
// changes over the injected stores.
type Service struct {
	users    UserRepository
	sessions session.Store
	tokens   TokenIssuer
	recorder Recorder
	riskEng  RiskEngine
	attempts AttemptCounter
	logger   *slog.Logger
}

// NewService wires the authentication orchestrator.
func NewService(
	users UserRepository,
	sessions session.Store,
	tokens TokenIssuer,
	recorder Recorder,
	riskEngine RiskEngine,
	attempts AttemptCounter,
	logger *slog.Logger,
) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		recorder: recorder,
		riskEng:  riskEngine,
		attempts: attempts,
		logger:   logger,
	}
}

// # Login

// ClientContext is the request environment captured by the transport layer.
type ClientContext struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Geolocation       string
	Country           string
}

// LoginParams carries one authentication attempt.
type LoginParams struct {
	Email      string
	Password   string
	RememberMe bool
	Client     ClientContext
}

// TokenPair is a freshly issued access/refresh pair with its metadata.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	TokenFamily      string
}

// LoginResult is the successful outcome of a login or refresh.
type LoginResult struct {
	User      *User
	Session   *session.Session
	Tokens    TokenPair
	RiskScore int
}

/*
Login authenticates a user and establishes a session with a bound token
pair.

Description: Unknown user, missing hash, and wrong password all collapse
into ErrInvalidCredentials; only a correct password on a deactivated account
earns ErrAccountDeactivated. Failed attempts feed the brute-force counter
the risk engine reads. Session TTL is 24 hours, or 7 days with rememberMe.

Parameters:
  - ctx: context.Context
  - params: LoginParams

Returns:
  - *LoginResult: User, session, and token pair
  - error: ErrInvalidCredentials, ErrAccountDeactivated, or internal errors
*/
func (service *Service) Login(ctx context.Context, params LoginParams) (*LoginResult, error) {
	email := sec.NormalizeIdentifier(params.Email)

	user, err := service.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			service.failedLogin(ctx, email, params.Client, "unknown_user")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == "" {
		service.failedLogin(ctx, email, params.Client, "no_password_hash")
		return nil, ErrInvalidCredentials
	}

	if !sec.CheckPasswordHash(params.Password, user.PasswordHash) {
		service.failedLogin(ctx, email, params.Client, "wrong_password")
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		service.recorder.Record(ctx, &audit.Event{
			UserID:    user.ID,
			EventType: audit.EventUserLogin,
			Severity:  audit.SeverityWarning,
			Result:    audit.ResultDenied,
			IPAddress: params.Client.IPAddress,
			UserAgent: params.Client.UserAgent,
			Metadata:  map[string]any{"reason": "account_deactivated"},
		})
		return nil, ErrAccountDeactivated
	}

	assessment := service.riskEng.Evaluate(ctx, risk.Input{
		UserID:            user.ID,
		Email:             email,
		IPAddress:         params.Client.IPAddress,
		UserAgent:         params.Client.UserAgent,
		DeviceFingerprint: params.Client.DeviceFingerprint,
		Country:           params.Client.Country,
		AccountCreatedAt:  user.CreatedAt,
		PasswordChangedAt: user.PasswordChangedAt,
	})

	ttl := constants.SessionTTL
	if params.RememberMe {
		ttl = constants.SessionTTLRemembered
	}

	created := session.NewSession(session.NewSessionParams{
		UserID:            user.ID,
		IPAddress:         params.Client.IPAddress,
		UserAgent:         params.Client.UserAgent,
		DeviceFingerprint: params.Client.DeviceFingerprint,
		Geolocation:       params.Client.Geolocation,
		RiskScore:         assessment.Score,
		TTL:               ttl,
	})
	created.TokenFamily = uuid.New()

	// The pair is issued before the row exists so the session is born with
	// both JTIs bound; the store never sees a half-initialized record.
	pair, err := service.issuePair(user, created)
	if err != nil {
		return nil, err
	}

	if err := service.sessions.Create(ctx, created); err != nil {
		return nil, err
	}

	if err := service.attempts.Reset(ctx, email); err != nil {
		service.logger.Warn("login_attempt_reset_failed", slog.Any("error", err))
	}
	service.riskEng.Observe(ctx, user.ID, params.Client.DeviceFingerprint, params.Client.Country)

	if err := service.users.TouchLastLogin(ctx, user.ID); err != nil {
		service.logger.Warn("login_touch_last_login_failed", slog.Any("error", err))
	}

	service.recorder.Record(ctx, &audit.Event{
		UserID:    user.ID,
		SessionID: created.ID,
		EventType: audit.EventUserLogin,
		Result:    audit.ResultSuccess,
		IPAddress: params.Client.IPAddress,
		UserAgent: params.Client.UserAgent,
		Metadata:  map[string]any{"rememberMe": params.RememberMe, "riskScore": assessment.Score},
	})
	service.recorder.Record(ctx, &audit.Event{
		UserID:    user.ID,
		SessionID: created.ID,
		EventType: audit.EventSessionCreated,
		Result:    audit.ResultSuccess,
		IPAddress: params.Client.IPAddress,
		UserAgent: params.Client.UserAgent,
	})

	return &LoginResult{
		User:      user,
		Session:   created,
		Tokens:    pair,
		RiskScore: assessment.Score,
	}, nil
}

// issuePair signs an access/refresh pair for the session and stores the
// JTIs on the entity (persisting them is the caller's job).
func (service *Service) issuePair(user *User, target *session.Session) (TokenPair, error) {
	identity := token.Identity{UserID: user.ID, Email: user.Email, Name: user.Name}
	binding := token.BindingContext{IP: target.IPAddress, UserAgent: target.UserAgent}

	access, err := service.tokens.IssueAccess(identity, target.ID, binding, sec.BindingSoft)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := service.tokens.IssueRefresh(user.ID, target.ID, target.TokenFamily)
	if err != nil {
		return TokenPair{}, err
	}

	target.AccessTokenJTI = access.JTI
	target.RefreshTokenJTI = refresh.JTI

	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		TokenFamily:      refresh.TokenFamily,
	}, nil
}

// failedLogin records a failed attempt: audit trail plus the brute-force
// counter.
func (service *Service) failedLogin(ctx context.Context, email string, client ClientContext, reason string) {
	if err := service.attempts.Increment(ctx, email); err != nil {
		service.logger.Warn("login_attempt_increment_failed", slog.Any("error", err))
	}

	service.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventUserLogin,
		Severity:  audit.SeverityWarning,
		Result:    audit.ResultFailure,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata:  map[string]any{"reason": reason, "identifier": email},
	})
}

// # Logout

/*
Logout ends the caller's current session.

Description: Ownership is enforced: revoking a session that belongs to
another user reports ErrSessionNotOwned, which the transport layer renders
as not-found. Revocation is idempotent.

Parameters:
  - ctx: context.Context
  - principal: The authenticated caller.
  - sessionID: The session to revoke (normally the caller's own).

Returns:
  - error: ErrSessionNotOwned, session.ErrNotFound, or internal errors
*/
func (service *Service) Logout(ctx context.Context, principal sec.Principal, sessionID string) error {
	target, err := service.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if target.UserID != principal.UserID {
		return ErrSessionNotOwned
	}

	if err := service.sessions.RevokeSession(ctx, sessionID, "user_logout"); err != nil {
		return err
	}

	service.recorder.Record(ctx, &audit.Event{
		UserID:    principal.UserID,
		SessionID: sessionID,
		EventType: audit.EventUserLogout,
		Result:    audit.ResultSuccess,
	})

	return nil
}

/*
LogoutAll revokes every active session of the caller.

Returns:
  - int: Number of sessions revoked
  - error: Internal errors
*/
func (service *Service) LogoutAll(ctx context.Context, principal sec.Principal) (int, error) {
	revoked, err := service.sessions.RevokeAllUserSessions(ctx, principal.UserID, "user_logout_all")
	if err != nil {
		return 0, err
	}

	service.recorder.Record(ctx, &audit.Event{
		UserID:    principal.UserID,
		SessionID: principal.SessionID,
		EventType: audit.EventUserLogout,
		Result:    audit.ResultSuccess,
		Metadata:  map[string]any{"mode": "all", "revoked": revoked},
	})

	return revoked, nil
}

// # Password Change

/*
ChangePassword verifies the current password and installs a new hash.

Description: Every other session of the user is revoked; the session that
performed the change stays signed in. The new hash uses the standard cost;
verification of the old one tolerates legacy costs.

Parameters:
  - ctx: context.Context
  - principal: The authenticated caller.
  - currentPassword: string
  - newPassword: string (already validated for strength by the transport)

Returns:
  - error: ErrInvalidCredentials when the current password is wrong
*/
func (service *Service) ChangePassword(ctx context.Context, principal sec.Principal, currentPassword, newPassword string) error {
	user, err := service.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return err
	}

	if !sec.CheckPasswordHash(currentPassword, user.PasswordHash) {
		service.recorder.Record(ctx, &audit.Event{
			UserID:    user.ID,
			SessionID: principal.SessionID,
			EventType: audit.EventPasswordChange,
			Severity:  audit.SeverityWarning,
			Result:    audit.ResultFailure,
			Metadata:  map[string]any{"reason": "wrong_current_password"},
		})
		return ErrInvalidCredentials
	}

	newHash, err := sec.HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := service.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		return err
	}

	revoked, err := service.sessions.RevokeOtherUserSessions(ctx, user.ID, principal.SessionID, "password_change")
	if err != nil {
		service.logger.Error("password_change_revoke_others_failed",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	service.recorder.Record(ctx, &audit.Event{
		UserID:    user.ID,
		SessionID: principal.SessionID,
		EventType: audit.EventPasswordChange,
		Result:    audit.ResultSuccess,
		Metadata:  map[string]any{"otherSessionsRevoked": revoked},
	})

	return nil
}

// # Step-Up Authentication

// StepUpResult carries a freshly minted privileged token.
type StepUpResult struct {
	Token     string
	ExpiresAt time.Time
	Scopes    []string
}

/*
StepUp re-verifies the caller's password and mints a short-lived privileged
token for sensitive operations.

Description: The privileged token is strictly bound to the presenting
client; it elevates the caller's security level only for requests arriving
from the same address and agent. A wrong password is the uniform credential
failure, audited with the local reason.

Parameters:
  - ctx: context.Context
  - principal: The authenticated caller.
  - password: The caller's current password, re-entered.
  - scopes: Operation scopes the client requests for the elevation.
  - client: The presenting client's context, used for strict binding.

Returns:
  - *StepUpResult: Privileged token with its expiry
  - error: ErrInvalidCredentials when the password is wrong
*/
func (service *Service) StepUp(ctx context.Context, principal sec.Principal, password string, scopes []string, client ClientContext) (*StepUpResult, error) {
	user, err := service.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	if !sec.CheckPasswordHash(password, user.PasswordHash) {
		service.recorder.Record(ctx, &audit.Event{
			UserID:    user.ID,
			SessionID: principal.SessionID,
			EventType: audit.EventStepUpCompleted,
			Severity:  audit.SeverityWarning,
			Result:    audit.ResultFailure,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
			Metadata:  map[string]any{"reason": "wrong_password"},
		})
		return nil, ErrInvalidCredentials
	}

	identity := token.Identity{UserID: user.ID, Email: user.Email, Name: user.Name}
	binding := token.BindingContext{IP: client.IPAddress, UserAgent: client.UserAgent}

	issued, err := service.tokens.IssuePrivileged(identity, principal.SessionID, binding, scopes)
	if err != nil {
		return nil, err
	}

	service.recorder.Record(ctx, &audit.Event{
		UserID:    user.ID,
		SessionID: principal.SessionID,
		EventType: audit.EventStepUpCompleted,
		Result:    audit.ResultSuccess,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata:  map[string]any{"scopes": scopes},
	})

	return &StepUpResult{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		Scopes:    scopes,
	}, nil
}

// # Session Listing

// SessionSummary is the device-management view of one active session.
type SessionSummary struct {
	ID                string    `json:"id"`
	IPAddress         string    `json:"ipAddress,omitempty"`
	UserAgent         string    `json:"userAgent,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	Geolocation       string    `json:"geolocation,omitempty"`
	RiskScore         int       `json:"riskScore"`
	LastActivityAt    time.Time `json:"lastActivityAt"`
	CreatedAt         time.Time `json:"createdAt"`
	Current           bool      `json:"current"`
}

/*
ListSessions returns the caller's active sessions, marking the current one.

Returns:
  - []SessionSummary: Newest first
  - error: Internal errors
*/
func (service *Service) ListSessions(ctx context.Context, principal sec.Principal) ([]SessionSummary, error) {
	active, err := service.sessions.FindActiveByUserID(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(active))
	for _, item := range active {
		summaries = append(summaries, SessionSummary{
			ID:                item.ID,
			IPAddress:         item.IPAddress,
			UserAgent:         item.UserAgent,
			DeviceFingerprint: item.DeviceFingerprint,
			Geolocation:       item.Geolocation,
			RiskScore:         item.RiskScore,
			LastActivityAt:    item.LastActivityAt,
			CreatedAt:         item.CreatedAt,
			Current:           item.ID == principal.SessionID,
		})
	}

	return summaries, nil
}
