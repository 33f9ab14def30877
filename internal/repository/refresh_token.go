package repository

import (
	"context"
	"errors"
	"time"

	"lumen/internal/models"

	"gorm.io/gorm"
)

// RefreshTokenRepository defines persistence operations for refresh tokens.
// StoreWithCap runs insert and prune inside one transaction so concurrent
// logins cannot over- or under-shrink the active set.
type RefreshTokenRepository interface {
	StoreWithCap(ctx context.Context, token *models.RefreshToken, cap int) error
	GetByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id uint) error
	RevokeAndStoreWithCap(ctx context.Context, revokeID uint, token *models.RefreshToken, cap int) error
	RevokeAllForUser(ctx context.Context, userID uint) error
	CountActive(ctx context.Context, userID uint, now time.Time) (int64, error)
}

type refreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository returns a new RefreshTokenRepository implementation.
func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

// StoreWithCap inserts token and prunes the user's oldest active tokens so at
// most cap remain. A cap of zero or less disables pruning.
func (r *refreshTokenRepository) StoreWithCap(ctx context.Context, token *models.RefreshToken, cap int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(token).Error; err != nil {
			return err
		}
		return pruneActive(tx, token.UserID, cap)
	})
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// RevokeAndStoreWithCap revokes the rotated-out token and stores its
// replacement in the same transaction. The revocation is guarded by its row
// count: if another rotation already revoked the token, the whole rotation
// fails, so a token can only ever be rotated once.
func (r *refreshTokenRepository) RevokeAndStoreWithCap(ctx context.Context, revokeID uint, token *models.RefreshToken, cap int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", revokeID).
			Update("revoked_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewUnauthorizedError("invalid refresh token")
		}
		if err := tx.Create(token).Error; err != nil {
			return err
		}
		return pruneActive(tx, token.UserID, cap)
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return models.NewInternalError(err)
	}
	return nil
}

// pruneActive revokes the oldest active tokens beyond cap. Only non-revoked,
// non-expired rows count toward the limit; oldest issued-at go first.
func pruneActive(tx *gorm.DB, userID uint, cap int) error {
	if cap <= 0 {
		return nil
	}

	now := time.Now()
	var active []models.RefreshToken
	if err := tx.
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("issued_at ASC, id ASC").
		Find(&active).Error; err != nil {
		return err
	}

	excess := len(active) - cap
	if excess <= 0 {
		return nil
	}

	ids := make([]uint, 0, excess)
	for _, t := range active[:excess] {
		ids = append(ids, t.ID)
	}
	return tx.Model(&models.RefreshToken{}).
		Where("id IN ?", ids).
		Update("revoked_at", now).Error
}

func (r *refreshTokenRepository) GetByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &token, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", time.Now()).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *refreshTokenRepository) CountActive(ctx context.Context, userID uint, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Count(&count).Error
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
