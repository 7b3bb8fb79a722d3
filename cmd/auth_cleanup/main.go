package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"taskhub/internal/config"
	"taskhub/internal/database"
	"taskhub/internal/repository"
)

// Batch purge of rows the protocol can never touch again: refresh tokens
// that are expired or revoked past the retention window, and denylist
// entries for access tokens that have expired on their own.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAuthRuntimeConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := database.Connect(dsn)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	ctx := context.Background()

	refreshRepo := repository.NewRefreshTokenRepository(db)
	tokens, err := refreshRepo.DeleteExpired(ctx, cfg.RevokedRetention)
	if err != nil {
		log.Fatalf("cleanup refresh_tokens failed: %v", err)
	}

	denylistRepo := repository.NewDenylistRepository(db)
	entries, err := denylistRepo.DeleteExpired(ctx)
	if err != nil {
		log.Fatalf("cleanup access_denylist failed: %v", err)
	}

	log.Printf("auth cleanup completed: refresh_tokens=%d access_denylist=%d", tokens, entries)
}
