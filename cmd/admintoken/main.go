// Command admintoken mints a bearer token for the admin API.
//
//	admintoken -identity admin1 -username alice
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/spec-kit/moderation-service/internal/api/dto"
	"github.com/spec-kit/moderation-service/internal/auth"
	"github.com/spec-kit/moderation-service/internal/config"
	"github.com/spec-kit/moderation-service/internal/domain"
)

func main() {
	identityID := flag.String("identity", "", "identity id the token acts as")
	username := flag.String("username", "", "display name carried in the token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	token, expiresAt, err := tokens.GenerateToken(domain.Identity{ID: *identityID, Username: *username})
	if err != nil {
		log.Fatalf("failed to mint token: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dto.AuthResponse{Token: token, ExpiresAt: expiresAt}); err != nil {
		log.Fatalf("failed to write token: %v", err)
	}
}
