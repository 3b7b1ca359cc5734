package app

import (
	"database/sql"
	"fmt"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/migrate"
)

// Open prepares a workspace: ensures the .caseline directory exists,
// opens the SQLite database, runs migrations, and loads caseline.yml
// (falling back to the built-in defaults). The caller owns the handle.
func Open(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

// OpenEngine is Open plus engine construction. The returned close func
// releases the database handle.
func OpenEngine(workspace string) (engine.Engine, func() error, error) {
	conn, cfg, err := Open(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg), conn.Close, nil
}
