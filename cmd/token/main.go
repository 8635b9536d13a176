// Command token mints a signed bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"log"

	"mileage/internal/auth"
	"mileage/internal/config"
	"mileage/internal/validator"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	userID := flag.String("user", "", "user id to put in the token")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to TOKEN_TTL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("refusing to mint tokens in production")
	}
	if err := validator.ValidateUserID(*userID); err != nil {
		log.Fatalf("invalid -user: %v", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.TokenTTL
	}
	token, err := auth.GenerateToken(cfg.JWTSecret, *userID, lifetime)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
