// Command migrate creates the database if needed and applies the schema.
package main

import (
	"database/sql"
	"fmt"
	"log"

	"lumen/internal/config"
	"lumen/internal/database"

	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := ensureDatabase(cfg); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: database.NewGormLogger(),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if err := db.AutoMigrate(database.PersistentModels()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	log.Println("migrations applied")
	return nil
}

// ensureDatabase connects to the maintenance database and creates the target
// database when missing.
func ensureDatabase(cfg *config.Config) error {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=postgres sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBSSLMode,
	)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	var exists bool
	err = db.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", cfg.DBName).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// Database names cannot be bound as parameters; cfg.DBName comes from
	// operator configuration, not request input.
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %q", cfg.DBName))
	if err != nil {
		return err
	}
	log.Printf("created database %s", cfg.DBName)
	return nil
}
