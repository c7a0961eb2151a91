package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/agent-mesh/agent-mesh/pkg/common/config"
	"github.com/agent-mesh/agent-mesh/pkg/migrations"
)

var (
	upFlag      = flag.Bool("up", false, "Apply all pending migrations")
	downFlag    = flag.Bool("down", false, "Roll back every applied migration")
	versionFlag = flag.Bool("version", false, "Show current schema version")
	dsn         = flag.String("dsn", "", "Database connection string (defaults to the loaded configuration)")
)

func main() {
	flag.Parse()

	// .env is optional; deployments set their environment directly.
	_ = godotenv.Load()

	connString := *dsn
	if connString == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		connString = cfg.Database.BuildDSN()
	}

	db, err := sqlx.Connect("postgres", connString)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received termination signal, canceling...")
		cancel()
	}()

	runner, err := migrations.NewRunner(db, nil)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Printf("Failed to close migration runner: %v", err)
		}
	}()

	switch {
	case *versionFlag:
		version, dirty, err := runner.Version()
		if err != nil {
			log.Fatalf("Failed to read schema version: %v", err)
		}
		fmt.Printf("Current schema version: %d (dirty: %t)\n", version, dirty)

	case *upFlag:
		fmt.Println("Applying migrations...")
		start := time.Now()
		if err := runner.Up(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Migrations completed in %s\n", time.Since(start))

	case *downFlag:
		fmt.Println("Rolling back all migrations...")
		if err := runner.Down(ctx); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		fmt.Println("Rollback completed")

	default:
		flag.Usage()
	}
}
