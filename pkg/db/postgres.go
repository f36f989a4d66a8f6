package db

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/verdantlab/BotanyBattle-Server/config"
)

// OpenPostgres opens and verifies a PostgreSQL connection.
func OpenPostgres(cfg *config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("connected to PostgreSQL")
	return conn, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(conn *sql.DB) error {
	if _, err := conn.Exec(CreateAllTablesSQL); err != nil {
		return fmt.Errorf("unable to create schema: %w", err)
	}
	return nil
}
