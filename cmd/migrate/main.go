package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/repository/postgres"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	listOnly := len(os.Args) > 1 && os.Args[1] == "--list"

	ctx := context.Background()
	db, err := postgres.Open(ctx, config.DatabaseConfig{URL: dsn, MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	if listOnly {
		all, err := postgres.Migrations()
		if err != nil {
			log.Fatal(err)
		}
		applied, err := postgres.AppliedVersions(ctx, db)
		if err != nil {
			// fresh database without schema_migrations yet
			log.Printf("no applied migrations: %v", err)
			applied = map[string]bool{}
		}
		for _, m := range all {
			state := "pending"
			if applied[m.Version] {
				state = "applied"
			}
			fmt.Printf("  %-40s %s\n", m.Version, state)
		}
		return
	}

	versions, err := postgres.Migrate(ctx, db)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	for _, v := range versions {
		fmt.Printf("  %s ... OK\n", v)
	}
	log.Printf("Done: %d applied", len(versions))
}
