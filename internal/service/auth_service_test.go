package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"lumen/internal/auth"
	"lumen/internal/models"
	"lumen/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testHasher uses reduced argon2id cost so the suite stays fast.
func testHasher() *auth.PasswordHasher {
	return &auth.PasswordHasher{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 16, SaltLen: 16}
}

func setupAuthService(t *testing.T, tokenLimit int) (*AuthService, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))

	codec := auth.NewTokenCodec("auth-service-test-secret-32-chars!!!", 15*time.Minute, 24*time.Hour)
	svc := NewAuthService(
		repository.NewUserRepository(db),
		repository.NewRefreshTokenRepository(db),
		testHasher(),
		codec,
		tokenLimit,
	)
	return svc, db
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	svc, _ := setupAuthService(t, 5)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "alice@example.com", "password123", "Alice A.", "taking pictures")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "password123", user.Password, "password must be stored hashed")
	assert.Equal(t, "Alice A.", user.Name)
	assert.Equal(t, "taking pictures", user.Bio)

	// Duplicate username conflicts.
	_, err = svc.Register(ctx, "alice", "other@example.com", "password123", "", "")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appErrCode(t, err))

	// Wrong password and unknown user both collapse into unauthorized.
	_, _, err = svc.Login(ctx, "alice", "wrong password")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", appErrCode(t, err))

	_, _, err = svc.Login(ctx, "nobody", "password123")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", appErrCode(t, err))

	// Login by username and by email both work.
	loggedIn, pair, err := svc.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	_, _, err = svc.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	svc, _ := setupAuthService(t, 5)
	ctx := context.Background()

	cases := []struct{ username, email, password string }{
		{"ab", "ok@example.com", "password123"},       // username too short
		{"gooduser", "not-an-email", "password123"},   // bad email
		{"gooduser", "ok@example.com", "short"},       // password too short
		{"search", "ok@example.com", "password123"},   // reserved username
	}
	for _, tc := range cases {
		_, err := svc.Register(ctx, tc.username, tc.email, tc.password, "", "")
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
	}

	// Optional profile fields still have ceilings.
	_, err := svc.Register(ctx, "gooduser", "ok@example.com", "password123", strings.Repeat("n", 81), "")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	t.Parallel()

	svc, _ := setupAuthService(t, 5)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "bob@example.com", "password123", "", "")
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "bob", "password123")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Replaying the rotated-out token must fail.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", appErrCode(t, err))

	// The replacement still works.
	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()

	svc, _ := setupAuthService(t, 5)
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol", "carol@example.com", "password123", "", "")
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "carol", "password123")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", appErrCode(t, err))
}

func TestActiveTokenCapPrunesOldestFirst(t *testing.T) {
	t.Parallel()

	svc, db := setupAuthService(t, 2)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dave", "dave@example.com", "password123", "", "")
	require.NoError(t, err)

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		_, pair, err := svc.Login(ctx, "dave", "password123")
		require.NoError(t, err)
		pairs = append(pairs, pair)
	}

	var active int64
	require.NoError(t, db.Model(&models.RefreshToken{}).
		Where("revoked_at IS NULL AND expires_at > ?", time.Now()).
		Count(&active).Error)
	assert.Equal(t, int64(2), active, "cap must bound the active set")

	// The oldest token was pruned; the newest two still rotate.
	_, err = svc.Refresh(ctx, pairs[0].RefreshToken)
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", appErrCode(t, err))

	_, err = svc.Refresh(ctx, pairs[2].RefreshToken)
	require.NoError(t, err)
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, db := setupAuthService(t, 5)
	ctx := context.Background()

	_, err := svc.Register(ctx, "erin", "erin@example.com", "password123", "", "")
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "erin", "password123")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))

	var record models.RefreshToken
	require.NoError(t, db.Where("token_hash = ?", HashToken(pair.RefreshToken)).First(&record).Error)
	assert.NotNil(t, record.RevokedAt)

	// Logged-out token no longer refreshes, and repeat logouts are accepted.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, "garbage"))
	require.NoError(t, svc.Logout(ctx, ""))
}

func TestLoginUpgradesWeakHashes(t *testing.T) {
	t.Parallel()

	svc, db := setupAuthService(t, 5)
	ctx := context.Background()

	// Store a hash made with weaker parameters than the service's hasher.
	weaker := &auth.PasswordHasher{Time: 1, Memory: 1 * 1024, Threads: 1, KeyLen: 16, SaltLen: 16}
	oldHash, err := weaker.Hash("password123")
	require.NoError(t, err)
	user := models.User{Username: "frank", Email: "frank@example.com", Password: oldHash}
	require.NoError(t, db.Create(&user).Error)

	_, _, err = svc.Login(ctx, "frank", "password123")
	require.NoError(t, err)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	assert.NotEqual(t, oldHash, reloaded.Password, "hash must be upgraded on login")
	assert.False(t, testHasher().NeedsRehash(reloaded.Password))
}
