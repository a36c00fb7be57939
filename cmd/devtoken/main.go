package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/community/community-api/internal/config"
	"github.com/community/community-api/internal/domain/user"
	"github.com/community/community-api/internal/pkg/database"
	"github.com/community/community-api/internal/pkg/jwt"
)

// devtoken prints a signed access token for an existing user so the API can be exercised locally.
func main() {
	username := flag.String("user", "", "username to issue the token for")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_ACCESS_TTL)")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <username> [-ttl 1h]")
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.IsProduction() {
		log.Fatal("devtoken refuses to run with ENV=production")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := user.NewRepository(db).GetByUsername(ctx, *username)
	if err != nil {
		log.Fatalf("Lookup failed for %s: %v", *username, err)
	}
	if u == nil {
		log.Fatalf("User %s not found", *username)
	}
	if u.IsBanned {
		fmt.Fprintln(os.Stderr, "WARNING: user is banned, the API will reject this token")
	}

	accessTTL := cfg.JWTAccessTTL
	if *ttl > 0 {
		accessTTL = *ttl
	}

	token, err := jwt.NewService(cfg.JWTSecret, accessTTL).
		GenerateAccessToken(u.ID, u.Username, string(u.Role), u.IsBanned)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "user=%s id=%s role=%s expires_in=%s\n", u.Username, u.ID, u.Role, accessTTL)
	fmt.Println(token)
}
