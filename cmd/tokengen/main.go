// Command tokengen mints a session token for local testing of the gateway.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/services"
	"groupchat/pkg/config"
	"groupchat/pkg/validation"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.yaml", "path to the gateway config file")
	userID := flag.String("user", "", "user id to put in the token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to auth.token_ttl")
	flag.Parse()

	if err := run(*configPath, domain.UserID(*userID), *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, userID domain.UserID, ttl time.Duration) error {
	if err := validation.ValidateUserID(userID); err != nil {
		return fmt.Errorf("-user: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := services.NewAuthService(cfg.Auth.JWTSecret, ttl).GenerateToken(domain.Identity{ID: userID})
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
