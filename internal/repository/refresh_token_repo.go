package repository

import (
	"context"
	"time"

	"taskhub/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefreshTokenRepository provides DB access for refresh tokens. Rotation
// itself runs in the auth service transaction; the lock helper here is what
// serializes concurrent rotations of one row.
type RefreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// GetByHashForUpdate fetches a row under SELECT ... FOR UPDATE. Must run
// inside a transaction; the lock is released on commit/rollback.
func GetByHashForUpdate(tx *gorm.DB, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ?", hash).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Revoke marks one row revoked. replacedByJTI is non-nil only for rotation;
// the revoked_at IS NULL guard keeps revocation write-once.
func Revoke(tx *gorm.DB, id int64, now time.Time, replacedByJTI *string) error {
	updates := map[string]any{"revoked_at": now}
	if replacedByJTI != nil {
		updates["replaced_by_jti"] = *replacedByJTI
	}
	return tx.Model(&domain.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(updates).Error
}

// RevokeFamily kills every live token descended from one login. Single
// statement so a concurrent reader never observes a half-revoked family.
func RevokeFamily(tx *gorm.DB, familyID string, now time.Time) error {
	return tx.Model(&domain.RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Update("revoked_at", now).Error
}

// DeleteExpired purges rows the protocol can never touch again: past expiry,
// or revoked longer than the retention window. Consumed by cmd/auth_cleanup.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL AND revoked_at < ?", now.Add(-retention)).
		Delete(&domain.RefreshToken{})
	return res.RowsAffected, res.Error
}
