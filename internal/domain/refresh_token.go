package domain

import "time"

// RefreshToken stores one issued refresh token per row.
//
// Security notes:
// - We never store the raw secret in DB, only its SHA-256 digest (TokenHash).
// - On refresh we rotate tokens: the old row is revoked and linked to the
//   successor via ReplacedByJTI. Every descendant of one login shares FamilyID.
type RefreshToken struct {
	ID int64 `json:"id" gorm:"primaryKey"`

	UserID int64 `json:"user_id" gorm:"not null;index:idx_refresh_user_revoked"`
	User   User  `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`

	TokenHash string `json:"-" gorm:"size:64;uniqueIndex;not null"`
	JTI       string `json:"jti" gorm:"size:36;uniqueIndex;not null"`
	FamilyID  string `json:"family_id" gorm:"size:36;index;not null"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"index;not null"`
	RevokedAt *time.Time `json:"revoked_at" gorm:"index:idx_refresh_user_revoked"`

	// Set only when revocation happened through rotation, never on a
	// family-wide kill or explicit revoke.
	ReplacedByJTI *string `json:"replaced_by_jti" gorm:"size:36;index"`
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// WasRotated reports whether this row was revoked as the source of a
// rotation, as opposed to being killed outright.
func (t *RefreshToken) WasRotated() bool {
	return t.RevokedAt != nil && t.ReplacedByJTI != nil
}
