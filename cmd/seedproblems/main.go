package main

import (
	"context"
	"flag"
	"time"

	"github.com/codeduel/duel-backend/internal/config"
	"github.com/codeduel/duel-backend/internal/problemset"
	"github.com/codeduel/duel-backend/internal/repository"
	"github.com/codeduel/duel-backend/pkg/database"
	"github.com/codeduel/duel-backend/pkg/logger"
)

func main() {
	file := flag.String("file", "", "problem YAML file (default: embedded set)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	problems, err := problemset.LoadFile(*file)
	if err != nil {
		logger.Fatal("Failed to load problems", "file", *file, "error", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := problemset.Seed(ctx, repository.NewProblemRepository(db), problems)
	if err != nil {
		logger.Fatal("Failed to seed problems", "seeded", n, "error", err)
	}

	logger.Info("Problems seeded", "count", n)
}
