package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"lumen/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func tokenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))
	return db
}

func newToken(userID uint, hash string, issuedAt time.Time) *models.RefreshToken {
	return &models.RefreshToken{
		UserID:    userID,
		TokenHash: hash,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(24 * time.Hour),
	}
}

func TestRevokeAndStoreWithCapIsSingleUse(t *testing.T) {
	t.Parallel()

	db := tokenDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := models.User{Username: "alice", Email: "alice@example.com", Password: "hash"}
	require.NoError(t, db.Create(&user).Error)

	now := time.Now()
	first := newToken(user.ID, "hash-1", now)
	require.NoError(t, repo.StoreWithCap(ctx, first, 5))

	require.NoError(t, repo.RevokeAndStoreWithCap(ctx, first.ID, newToken(user.ID, "hash-2", now), 5))

	// Rotating the same token a second time must fail outright, not mint
	// another replacement.
	err := repo.RevokeAndStoreWithCap(ctx, first.ID, newToken(user.ID, "hash-3", now), 5)
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "UNAUTHORIZED", appErr.Code)

	// The losing rotation's replacement was rolled back with it.
	record, err := repo.GetByHash(ctx, "hash-3")
	require.NoError(t, err)
	assert.Nil(t, record)

	var active int64
	require.NoError(t, db.Model(&models.RefreshToken{}).
		Where("revoked_at IS NULL").
		Count(&active).Error)
	assert.Equal(t, int64(1), active, "only the winning replacement stays active")
}

func TestRevokeAndStoreWithCapPrunes(t *testing.T) {
	t.Parallel()

	db := tokenDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := models.User{Username: "bob", Email: "bob@example.com", Password: "hash"}
	require.NoError(t, db.Create(&user).Error)

	now := time.Now()
	tokens := make([]*models.RefreshToken, 3)
	for i := range tokens {
		tokens[i] = newToken(user.ID, string(rune('a'+i)), now.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.StoreWithCap(ctx, tokens[i], 3))
	}

	require.NoError(t, repo.RevokeAndStoreWithCap(ctx, tokens[2].ID, newToken(user.ID, "d", now.Add(3*time.Second)), 2))

	// Oldest active token is pruned to keep the set at the cap.
	oldest, err := repo.GetByHash(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.NotNil(t, oldest.RevokedAt)

	count, err := repo.CountActive(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
