// Command issue-token prints a bearer token for a user id, signed with the
// configured JWT secret. Accounts are managed outside this service.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"pantry-backend/internal/auth"
	"pantry-backend/internal/config"
)

func main() {
	userID := flag.Uint("user", 0, "user id to put in the token")
	ttl := flag.Duration("ttl", 72*time.Hour, "token lifetime")
	cfgPath := flag.String("config", "", "config file (defaults to ./config.yaml and the environment)")
	flag.Parse()

	if *userID == 0 {
		log.Fatal("-user is required")
	}

	var (
		cfg *config.Config
		err error
	)
	if *cfgPath != "" {
		cfg, err = config.LoadFile(*cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatal(err)
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, *userID, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
