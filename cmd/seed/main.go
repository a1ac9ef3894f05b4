package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/repository"
	"talenttrade/backend/pkg/config"
	"talenttrade/backend/pkg/jwt"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/secrets"
)

func main() {
	password := flag.String("password", "password123", "Password for the demo accounts")
	flag.Parse()

	cfg := config.New()
	log := logger.New(logger.FromSettings(cfg.Logging.Level, "text"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}
	if err := repository.AutoMigrate(db); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}
	store := repository.NewGormStore(db)

	alice := &models.User{Name: "Alice Demo", Email: "alice@talenttrade.dev"}
	bob := &models.User{Name: "Bob Demo", Email: "bob@talenttrade.dev"}
	for _, u := range []*models.User{alice, bob} {
		if err := u.SetPassword(*password); err != nil {
			log.LogError(err, "Failed to hash password")
			os.Exit(1)
		}
		if err := store.Users.Create(ctx, u); err != nil {
			log.LogError(err, "Failed to create user", "email", u.Email)
			os.Exit(1)
		}
	}

	exchange := &models.Exchange{UserAID: alice.ID, UserBID: bob.ID, Status: models.ExchangeActive}
	if err := store.Exchanges.Create(ctx, exchange); err != nil {
		log.LogError(err, "Failed to create exchange")
		os.Exit(1)
	}

	manager, err := secrets.NewVaultManager(secrets.ConfigFrom(cfg), log)
	if err != nil {
		log.LogError(err, "Failed to initialise secrets")
		os.Exit(1)
	}
	tokens := jwt.NewService(secrets.JWTSecret(ctx, manager, cfg.JWT.Secret), cfg.JWT.Expiry)

	fmt.Printf("exchange: %s\n", exchange.ID)
	for _, u := range []*models.User{alice, bob} {
		token, err := tokens.GenerateToken(u.ID)
		if err != nil {
			log.LogError(err, "Failed to issue token", "user_id", u.ID)
			os.Exit(1)
		}
		fmt.Printf("%s (%s)\n  id:    %s\n  token: %s\n", u.Name, u.Email, u.ID, token)
	}
}
