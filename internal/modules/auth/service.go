package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"taskhub/internal/config"
	"taskhub/internal/domain"
	jwtsvc "taskhub/internal/pkg/jwt"
	"taskhub/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Anything longer is garbage or an attack payload; reject before touching
// storage. Raw tokens we issue are 64 hex chars.
const maxRefreshTokenLen = 512

type jwtService interface {
	GenerateToken(userID int64) (token string, jti string, expiresAt time.Time, err error)
	ValidateToken(tokenStr string) (*jwtsvc.Claims, error)
}

// Service contains all business logic for authentication: pair issuance,
// refresh rotation with reuse detection, and sign-out.
type Service struct {
	db       *gorm.DB
	users    UserRepositoryInterface
	denylist DenylistInterface
	jwt      jwtService

	refreshTokenPepper string
	refreshTTL         time.Duration
	reuseGrace         time.Duration

	now func() time.Time
}

type AuthResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

func NewService(
	db *gorm.DB,
	users UserRepositoryInterface,
	denylist DenylistInterface,
	jwt jwtService,
	cfg *config.AuthRuntimeConfig,
) *Service {
	return &Service{
		db:                 db,
		users:              users,
		denylist:           denylist,
		jwt:                jwt,
		refreshTokenPepper: cfg.RefreshTokenPepper,
		refreshTTL:         cfg.RefreshTTL,
		reuseGrace:         cfg.ReuseGrace,
		now:                time.Now,
	}
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*AuthResult, error) {
	exists, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailAlreadyExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Email:        req.Email,
		PasswordHash: string(hashed),
		Name:         req.Name,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return s.startSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.startSession(ctx, user)
}

// startSession issues a token pair with a fresh family. Each sign-in gets
// its own family so devices can be revoked independently.
func (s *Service) startSession(ctx context.Context, user *domain.User) (*AuthResult, error) {
	access, refreshRaw, _, err := s.issuePair(s.db.WithContext(ctx), s.now(), user.ID, "")
	if err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return &AuthResult{User: user, AccessToken: access, RefreshToken: refreshRaw}, nil
}

// Refresh executes the rotation protocol. Exactly one outcome per call:
// a new pair, ErrTokenInvalid, ErrTokenExpired, ErrTokenAlreadyRefreshed
// (benign replay inside the grace window) or ErrTokenReused (breach, whole
// family revoked).
func (s *Service) Refresh(ctx context.Context, refreshRaw string) (*AuthResult, error) {
	if refreshRaw == "" || len(refreshRaw) > maxRefreshTokenLen {
		return nil, ErrTokenInvalid
	}

	now := s.now()
	hash := hashTokenWithPepper(refreshRaw, s.refreshTokenPepper)

	var result *AuthResult
	var breach *domain.RefreshToken

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The row lock serializes concurrent rotations of the same token:
		// the loser blocks here and then observes revoked_at already set.
		current, err := repository.GetByHashForUpdate(tx, hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenInvalid
			}
			return err
		}

		if current.IsExpired(now) {
			return ErrTokenExpired
		}

		if current.IsRevoked() {
			if current.WasRotated() && now.Sub(*current.RevokedAt) <= s.reuseGrace {
				// A client retrying a refresh whose response got lost.
				// The successor chain stays untouched.
				return ErrTokenAlreadyRefreshed
			}
			// Explicitly killed token presented again, or a stale replay
			// well after rotation: somebody holds a token they shouldn't.
			if err := repository.RevokeFamily(tx, current.FamilyID, now); err != nil {
				return err
			}
			breach = current
			return nil // commit the family revocation
		}

		var user domain.User
		if err := tx.First(&user, current.UserID).Error; err != nil {
			return err
		}

		access, newRaw, newJTI, err := s.issuePair(tx, now, current.UserID, current.FamilyID)
		if err != nil {
			return err
		}
		if err := repository.Revoke(tx, current.ID, now, &newJTI); err != nil {
			return err
		}

		user.PasswordHash = ""
		result = &AuthResult{User: &user, AccessToken: access, RefreshToken: newRaw}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if breach != nil {
		log.Printf("refresh token reuse detected: user_id=%d family_id=%s jti=%s revoked_at=%v",
			breach.UserID, breach.FamilyID, breach.JTI, breach.RevokedAt)
		return nil, ErrTokenReused
	}
	return result, nil
}

// SignOut denylists the presented access token until its natural expiry.
// Never reveals whether the token was valid, and never touches the refresh
// family — other devices keep their sessions.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.jwt.ValidateToken(accessToken)
	if err != nil {
		return nil
	}
	return s.denylist.Add(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (s *Service) GetCurrentUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// issuePair persists a new refresh token record and signs the matching
// access token. familyID == "" starts a new family; otherwise the successor
// inherits it. Runs on tx so rotation commits both rows together.
func (s *Service) issuePair(tx *gorm.DB, now time.Time, userID int64, familyID string) (access, refreshRaw, refreshJTI string, err error) {
	if familyID == "" {
		familyID = uuid.NewString()
	}

	refreshRaw, refreshHash, err := generateOpaqueRefreshToken(s.refreshTokenPepper)
	if err != nil {
		return "", "", "", err
	}
	refreshJTI = uuid.NewString()

	if err := tx.Create(&domain.RefreshToken{
		UserID:    userID,
		TokenHash: refreshHash,
		JTI:       refreshJTI,
		FamilyID:  familyID,
		ExpiresAt: now.Add(s.refreshTTL),
	}).Error; err != nil {
		return "", "", "", err
	}

	access, _, _, err = s.jwt.GenerateToken(userID)
	if err != nil {
		return "", "", "", err
	}
	return access, refreshRaw, refreshJTI, nil
}

// generateOpaqueRefreshToken returns a 256-bit random secret in hex and the
// digest we persist. The raw form exists only in the response to the client.
func generateOpaqueRefreshToken(pepper string) (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	hash = hashTokenWithPepper(raw, pepper)
	return raw, hash, nil
}

func hashTokenWithPepper(raw, pepper string) string {
	sum := sha256.Sum256([]byte(raw + pepper))
	return hex.EncodeToString(sum[:])
}
