// Package main 系统初始化入口：建表与基础数据
package main

import (
	"fmt"
	"log"

	"storyforge-ai-api/internal/config"
	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/infrastructure/persistence/postgres"
)

func main() {
	fmt.Println("Starting system bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("failed to initialize postgres: %v", err)
	}
	defer func() { _ = pgClient.Close() }()

	db := pgClient.DB()

	// gen_random_uuid 依赖 pgcrypto
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto").Error; err != nil {
		log.Fatalf("failed to create pgcrypto extension: %v", err)
	}

	fmt.Println("Migrating schema...")
	if err := db.AutoMigrate(
		&entity.Book{},
		&entity.NarrativeUnit{},
		&entity.CharacterProfile{},
		&entity.Image{},
		&entity.LLMUsageEvent{},
	); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	fmt.Println("Bootstrap completed successfully.")
}
