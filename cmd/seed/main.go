package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/moveops-platform/apps/migrator/internal/auth"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ownerName := envOrDefault("SEED_OWNER_NAME", "Local Dev Owner")
	keyName := envOrDefault("SEED_KEY_NAME", "local-dev")
	scopes := strings.Fields(envOrDefault("SEED_KEY_SCOPES", auth.ScopeRead+" "+auth.ScopeWrite))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback(ctx)

	var ownerID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM owners WHERE name = $1 ORDER BY created_at LIMIT 1`, ownerName).Scan(&ownerID)
	if err != nil {
		if err := tx.QueryRow(ctx, `INSERT INTO owners (name) VALUES ($1) RETURNING id`, ownerName).Scan(&ownerID); err != nil {
			log.Fatalf("insert owner: %v", err)
		}
	}

	token, err := auth.GenerateToken()
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO api_keys (owner_id, name, token_hash, scopes)
		VALUES ($1, $2, $3, $4)
	`, ownerID, keyName, auth.HashToken(token), strings.Join(scopes, " ")); err != nil {
		log.Fatalf("insert api key: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("commit seed: %v", err)
	}

	fmt.Printf("seeded owner %s (%s)\n", ownerName, ownerID)
	fmt.Printf("api key %q: %s\n", keyName, token)
	fmt.Println("the token is shown once; store it now")
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
