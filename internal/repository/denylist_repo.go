package repository

import (
	"context"
	"time"

	"taskhub/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DenylistRepository stores revoked-but-unexpired access token ids. Checked
// on every protected request, so it stays small: entries die with the token.
type DenylistRepository struct {
	db *gorm.DB
}

func NewDenylistRepository(db *gorm.DB) *DenylistRepository {
	return &DenylistRepository{db: db}
}

// Add denylists a jti until the token's own expiry. Idempotent: signing out
// twice with the same token is not an error.
func (r *DenylistRepository) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	entry := domain.DenylistEntry{JTI: jti, ExpiresAt: expiresAt}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "jti"}}, DoNothing: true}).
		Create(&entry).Error
}

func (r *DenylistRepository) Contains(ctx context.Context, jti string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.DenylistEntry{}).
		Where("jti = ? AND expires_at > ?", jti, time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}

func (r *DenylistRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&domain.DenylistEntry{})
	return res.RowsAffected, res.Error
}
