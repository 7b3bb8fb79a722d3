package domain

import "time"

// DenylistEntry marks a revoked access token (by jti) until it would have
// expired on its own. Rows past ExpiresAt are purged by the cleanup job.
type DenylistEntry struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	JTI       string    `json:"jti" gorm:"size:36;uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (DenylistEntry) TableName() string { return "access_denylist" }
