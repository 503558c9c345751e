package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type DB struct {
	conn *sql.DB
}

// NewDB abre a conexão com o Postgres e valida com um ping rápido.
func NewDB(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewDBFromConnection embrulha uma conexão já aberta (testes usam
// sqlmock por aqui).
func NewDBFromConnection(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

func (db *DB) GetConnection() *sql.DB {
	return db.conn
}

func (db *DB) Close() error {
	return db.conn.Close()
}
