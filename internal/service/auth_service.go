package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"lumen/internal/auth"
	"lumen/internal/middleware"
	"lumen/internal/models"
	"lumen/internal/repository"
	"lumen/internal/validation"
)

// TokenPair is an access/refresh token set issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthService implements registration, login, token rotation, and logout.
type AuthService struct {
	users      repository.UserRepository
	tokens     repository.RefreshTokenRepository
	hasher     *auth.PasswordHasher
	codec      *auth.TokenCodec
	tokenLimit int
}

// NewAuthService wires the auth service with its collaborators.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	hasher *auth.PasswordHasher,
	codec *auth.TokenCodec,
	tokenLimit int,
) *AuthService {
	return &AuthService{
		users:      users,
		tokens:     tokens,
		hasher:     hasher,
		codec:      codec,
		tokenLimit: tokenLimit,
	}
}

// Register creates a new user account. Name and bio are optional profile
// fields; duplicate usernames or emails yield a conflict error.
func (s *AuthService) Register(ctx context.Context, username, email, password, name, bio string) (*models.User, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateProfile(name, bio); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	user := &models.User{
		Username: username,
		Email:    strings.ToLower(email),
		Password: hash,
		Name:     name,
		Bio:      bio,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	middleware.Logger.InfoContext(ctx, "user registered",
		slog.Uint64("user_id", uint64(user.ID)), slog.String("username", user.Username))
	return user, nil
}

// Login verifies credentials and issues a fresh token pair. The identifier
// may be a username or an email address. All failure modes collapse into a
// single unauthorized error so credentials cannot be probed.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*models.User, *TokenPair, error) {
	user, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !s.hasher.Verify(password, user.Password) {
		return nil, nil, models.NewUnauthorizedError("invalid credentials")
	}

	// Opportunistic rehash: upgrade hashes made with weaker cost parameters
	// while the plaintext is available.
	if s.hasher.NeedsRehash(user.Password) {
		if newHash, err := s.hasher.Hash(password); err == nil {
			user.Password = newHash
			if err := s.users.Update(ctx, user); err != nil {
				middleware.Logger.WarnContext(ctx, "password rehash not persisted",
					slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
			}
		}
	}

	pair, record, err := s.issuePair(user.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.tokens.StoreWithCap(ctx, record, s.tokenLimit); err != nil {
		return nil, nil, err
	}

	middleware.Logger.InfoContext(ctx, "user logged in", slog.Uint64("user_id", uint64(user.ID)))
	return user, pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued in one transaction. Tokens are single-use; replaying a
// rotated token fails.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	claims, err := s.codec.Decode(rawToken)
	if err != nil || claims.TokenKind != auth.TokenKindRefresh {
		return nil, models.NewUnauthorizedError("invalid refresh token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, models.NewUnauthorizedError("invalid refresh token")
	}

	record, err := s.tokens.GetByHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if record == nil || record.UserID != userID || !record.Active(time.Now()) {
		return nil, models.NewUnauthorizedError("invalid refresh token")
	}

	pair, newRecord, err := s.issuePair(userID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.RevokeAndStoreWithCap(ctx, record.ID, newRecord, s.tokenLimit); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes the presented refresh token. It is idempotent: unknown,
// already-revoked, or malformed tokens are accepted silently.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	record, err := s.tokens.GetByHash(ctx, HashToken(rawToken))
	if err != nil || record == nil {
		return nil
	}
	if err := s.tokens.Revoke(ctx, record.ID); err != nil {
		middleware.Logger.WarnContext(ctx, "refresh token revocation failed",
			slog.Uint64("token_id", uint64(record.ID)), slog.String("error", err.Error()))
	}
	return nil
}

// AccessTTL exposes the configured access token lifetime for cookie max-age.
func (s *AuthService) AccessTTL() time.Duration { return s.codec.AccessTTL() }

// RefreshTTL exposes the configured refresh token lifetime for cookie max-age.
func (s *AuthService) RefreshTTL() time.Duration { return s.codec.RefreshTTL() }

// issuePair mints both tokens and builds the persistence record for the
// refresh token. IssuedAt/ExpiresAt are taken from the token's own claims so
// the row and the token cannot drift.
func (s *AuthService) issuePair(userID uint) (*TokenPair, *models.RefreshToken, error) {
	access, err := s.codec.IssueAccess(userID)
	if err != nil {
		return nil, nil, models.NewInternalError(err)
	}
	refresh, err := s.codec.IssueRefresh(userID)
	if err != nil {
		return nil, nil, models.NewInternalError(err)
	}

	claims, err := s.codec.Decode(refresh)
	if err != nil {
		return nil, nil, models.NewInternalError(err)
	}

	record := &models.RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(refresh),
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, record, nil
}

func (s *AuthService) lookup(ctx context.Context, identifier string) (*models.User, error) {
	if strings.Contains(identifier, "@") {
		return s.users.GetByEmail(ctx, strings.ToLower(identifier))
	}
	return s.users.GetByUsername(ctx, identifier)
}

// HashToken returns the hex SHA-256 digest stored in place of raw tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
