// cmd/gentoken issues a signed access token for local testing.
// Usage: go run ./cmd/gentoken -role cashier -register 1
package main

import (
	"flag"
	"fmt"
	"time"

	"pettycash/internal/config"
	"pettycash/internal/middleware"
	"pettycash/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	role := flag.String("role", model.RoleCashier, "cashier, supervisor or administrator")
	user := flag.String("user", "", "user id (random when empty)")
	name := flag.String("name", "demo", "username claim")
	register := flag.Int("register", 0, "register id claim (optional)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}

	uid := *user
	if uid == "" {
		uid = uuid.NewString()
	}
	claims := middleware.JWTClaims{UserID: uid, Username: *name, Role: *role}
	if *register > 0 {
		claims.RegisterID = register
	}

	token, err := middleware.IssueToken(cfg.JWTSecret, claims, time.Duration(cfg.JWTExpirationHours)*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}
