package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"taskhub/internal/config"
	"taskhub/internal/database"
	"taskhub/internal/domain"
	jwtsvc "taskhub/internal/pkg/jwt"
	"taskhub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testConfig() *config.AuthRuntimeConfig {
	return &config.AuthRuntimeConfig{
		AppEnv:             "test",
		JWTSecret:          "test-secret-123",
		JWTAccessTTL:       time.Hour,
		RefreshTTL:         168 * time.Hour,
		ReuseGrace:         10 * time.Second,
		RefreshTokenPepper: "test-pepper",
		RevokedRetention:   720 * time.Hour,
	}
}

type testEnv struct {
	svc      *Service
	db       *gorm.DB
	denylist *repository.DenylistRepository
	clock    *time.Time
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1) // each :memory: connection is its own database

	require.NoError(t, database.Migrate(db))

	cfg := testConfig()
	userRepo := repository.NewUserRepository(db)
	denylistRepo := repository.NewDenylistRepository(db)
	j := jwtsvc.New(cfg.JWTSecret, cfg.JWTAccessTTL)

	svc := NewService(db, userRepo, denylistRepo, j, cfg)

	now := time.Now().UTC()
	svc.now = func() time.Time { return now }

	return &testEnv{svc: svc, db: db, denylist: denylistRepo, clock: &now}
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

func (e *testEnv) signUp(t *testing.T, email string) *AuthResult {
	t.Helper()
	result, err := e.svc.SignUp(context.Background(), SignUpRequest{
		Name:     "Test User",
		Email:    email,
		Password: "password123",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	return result
}

func TestSignIn_WrongPassword(t *testing.T) {
	env := setupService(t)
	env.signUp(t, "alice@example.com")

	_, err := env.svc.SignIn(context.Background(), SignInRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.SignIn(context.Background(), SignInRequest{
		Email:    "nobody@example.com",
		Password: "password123",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	env := setupService(t)
	env.signUp(t, "alice@example.com")

	_, err := env.svc.SignUp(context.Background(), SignUpRequest{
		Name:     "Other",
		Email:    "alice@example.com",
		Password: "password123",
	})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestRefresh_RotatesValidToken(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	second, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, first.User.ID, second.User.ID)

	// successor chain keeps the family
	var rows []domain.RefreshToken
	require.NoError(t, env.db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0].FamilyID, rows[1].FamilyID)
	require.NotNil(t, rows[0].RevokedAt)
	require.NotNil(t, rows[0].ReplacedByJTI)
	assert.Equal(t, rows[1].JTI, *rows[0].ReplacedByJTI)
	assert.Nil(t, rows[1].RevokedAt)
}

func TestRefresh_ReplayWithinGrace_IsBenign(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	second, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	env.advance(3 * time.Second)
	_, err = env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenAlreadyRefreshed)

	// successor untouched: rotating it still works
	third, err := env.svc.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, third.RefreshToken)
}

func TestRefresh_ConcurrentReplaySingleWinner(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	const workers = 8
	results := make(chan error, workers)

	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			_, err := env.svc.Refresh(context.Background(), first.RefreshToken)
			results <- err
		}()
	}
	start.Done()
	wg.Wait()
	close(results)

	// the row lock picks exactly one winner; everyone else lands inside
	// the grace window and gets the benign outcome
	var wins, benign int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenAlreadyRefreshed):
			benign++
		default:
			t.Fatalf("unexpected rotation outcome: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, benign)
}

func TestRefresh_ReplayAfterGrace_KillsFamily(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	second, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	env.advance(15 * time.Second)
	_, err = env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenReused)

	// whole family is dead, successor included
	_, err = env.svc.Refresh(context.Background(), second.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenReused)

	var live int64
	require.NoError(t, env.db.Model(&domain.RefreshToken{}).
		Where("revoked_at IS NULL").Count(&live).Error)
	assert.Zero(t, live)
}

func TestRefresh_ExplicitlyRevokedToken_IsReuse(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	// kill the token outright, as a family revocation would
	now := env.clock.UTC()
	require.NoError(t, env.db.Model(&domain.RefreshToken{}).
		Where("revoked_at IS NULL").Update("revoked_at", now).Error)

	// even an immediate replay of an explicitly killed token is reuse:
	// the grace window only pardons rotated tokens
	_, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenReused)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	env.advance(169 * time.Hour)
	_, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefresh_ExpiredWinsOverRevoked(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	_, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	env.advance(169 * time.Hour)
	_, err = env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefresh_UnknownToken(t *testing.T) {
	env := setupService(t)
	env.signUp(t, "alice@example.com")

	_, err := env.svc.Refresh(context.Background(), strings.Repeat("ab", 32))
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefresh_BadInputRejectedBeforeStorage(t *testing.T) {
	// nil db: any storage access would panic
	svc := NewService(nil, nil, nil, nil, testConfig())

	_, err := svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Refresh(context.Background(), strings.Repeat("a", 513))
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSignOut_DenylistsAccessToken(t *testing.T) {
	env := setupService(t)
	first := env.signUp(t, "alice@example.com")

	require.NoError(t, env.svc.SignOut(context.Background(), first.AccessToken))

	claims, err := env.svc.jwt.ValidateToken(first.AccessToken)
	require.NoError(t, err)
	denied, err := env.denylist.Contains(context.Background(), claims.ID)
	require.NoError(t, err)
	assert.True(t, denied)

	// refresh family survives sign-out: other flows on this device's chain
	// are a client decision, not ours
	_, err = env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.NoError(t, err)
}

func TestSignOut_InvalidTokenIsNoop(t *testing.T) {
	env := setupService(t)

	assert.NoError(t, env.svc.SignOut(context.Background(), "not-a-jwt"))
	assert.NoError(t, env.svc.SignOut(context.Background(), ""))
}

func TestSignOut_OtherDeviceUnaffected(t *testing.T) {
	env := setupService(t)
	env.signUp(t, "alice@example.com")

	device1, err := env.svc.SignIn(context.Background(), SignInRequest{
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	device2, err := env.svc.SignIn(context.Background(), SignInRequest{
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.SignOut(context.Background(), device1.AccessToken))

	claims2, err := env.svc.jwt.ValidateToken(device2.AccessToken)
	require.NoError(t, err)
	denied, err := env.denylist.Contains(context.Background(), claims2.ID)
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestBreachInOneFamily_LeavesOtherFamilyAlive(t *testing.T) {
	env := setupService(t)
	env.signUp(t, "alice@example.com")

	device1, err := env.svc.SignIn(context.Background(), SignInRequest{
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	device2, err := env.svc.SignIn(context.Background(), SignInRequest{
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	_, err = env.svc.Refresh(context.Background(), device1.RefreshToken)
	require.NoError(t, err)
	env.advance(15 * time.Second)
	_, err = env.svc.Refresh(context.Background(), device1.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)

	// device2's family is independent and still rotates
	_, err = env.svc.Refresh(context.Background(), device2.RefreshToken)
	assert.NoError(t, err)
}
