// Package main implements a standalone seed script that creates an initial
// admin account in the auth database. It talks to PostgreSQL directly so it
// can be run before the service is up, e.g. as part of environment bootstrap.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	username := getEnv("SEED_ADMIN_USERNAME", "admin")
	email := getEnv("SEED_ADMIN_EMAIL", "admin@recipefinder.local")
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		log.Fatal("SEED_ADMIN_PASSWORD must be set")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "recipefinder"),
		getEnv("POSTGRES_PASSWORD", "recipefinder_secret"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("AUTH_DB_NAME", "recipefinder_auth"),
		getEnv("POSTGRES_SSL_MODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	tag, err := pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'admin', true, $5, $5)
		ON CONFLICT (username) DO NOTHING`,
		uuid.New().String(), username, email, string(hash), now,
	)
	if err != nil {
		log.Fatalf("insert admin user: %v", err)
	}

	if tag.RowsAffected() == 0 {
		log.Printf("admin user %q already exists, nothing to do", username)
		return
	}
	log.Printf("created admin user %q (%s)", username, email)
}
