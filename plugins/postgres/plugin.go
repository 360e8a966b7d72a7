// Package postgres lets validation scripts read and record state in the
// project database, e.g. reference results or per-host error rates.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"github.com/BDNK1/scriptval/runtime/plugin"
)

// Config holds the Postgres plugin configuration
type Config struct {
	ConnectionString  string        `yaml:"connection_string" validate:"required,dsn"`
	MaxOpenConns      int           `yaml:"max_open_conns" default:"4" validate:"gte=1,lte=100"`
	MaxIdleConns      int           `yaml:"max_idle_conns" default:"2" validate:"gte=0,lte=50"`
	ConnMaxLifetimeMs int           `yaml:"conn_max_lifetime_ms" default:"300000" validate:"gte=0"` // 5 min default
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"5s" validate:"gte=1s"`
}

// GetInput defines input for postgres.get task
type GetInput struct {
	Query  string `json:"query" validate:"required"`
	Params []any  `json:"params"`
}

// GetOutput defines output for postgres.get task
type GetOutput struct {
	Row   map[string]any `json:"row"`
	Found bool           `json:"found"`
}

// ExecInput defines input for postgres.exec task
type ExecInput struct {
	Query  string `json:"query" validate:"required"`
	Params []any  `json:"params"`
}

// ExecOutput defines output for postgres.exec task
type ExecOutput struct {
	AffectedRows int64 `json:"affected_rows"`
}

// PostgresPlugin provides PostgreSQL database operations
type PostgresPlugin struct {
	Config Config
	Logger *slog.Logger
	db     *sql.DB
}

// Initialize opens the database connection pool
func (p *PostgresPlugin) Initialize(ctx context.Context) error {
	logger := p.logger()
	logger.DebugContext(ctx, "Opening postgres connection pool",
		"dsn", maskConnectionString(p.Config.ConnectionString),
		"max_open_conns", p.Config.MaxOpenConns,
		"max_idle_conns", p.Config.MaxIdleConns)

	db, err := sql.Open("postgres", p.Config.ConnectionString)
	if err != nil {
		return fmt.Errorf("postgres: failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(p.Config.MaxOpenConns)
	db.SetMaxIdleConns(p.Config.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(p.Config.ConnMaxLifetimeMs) * time.Millisecond)

	pingCtx, cancel := context.WithTimeout(ctx, p.Config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	p.db = db
	return nil
}

// Shutdown closes the database connection pool
func (p *PostgresPlugin) Shutdown(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		return err
	}
	return nil
}

func (p *PostgresPlugin) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Get executes a SELECT query and returns the first row
func (p *PostgresPlugin) Get(inv *plugin.Invocation, input GetInput) (GetOutput, error) {
	if p.db == nil {
		return GetOutput{}, fmt.Errorf("postgres.get: not connected")
	}
	p.logger().DebugContext(inv, "postgres.get", "query", input.Query, "result", inv.Result.Name)

	rows, err := p.db.QueryContext(inv, input.Query, input.Params...)
	if err != nil {
		return GetOutput{}, fmt.Errorf("postgres.get: query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return GetOutput{}, fmt.Errorf("postgres.get: failed to get columns: %w", err)
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return GetOutput{}, fmt.Errorf("postgres.get: failed to get column types: %w", err)
	}

	if !rows.Next() {
		return GetOutput{Found: false, Row: map[string]any{}}, rows.Err()
	}

	row, err := scanRow(cols, typeNames(colTypes), rows)
	if err != nil {
		return GetOutput{}, fmt.Errorf("postgres.get: failed to scan row: %w", err)
	}

	return GetOutput{Found: true, Row: row}, nil
}

// Exec executes INSERT, UPDATE, or DELETE query
func (p *PostgresPlugin) Exec(inv *plugin.Invocation, input ExecInput) (ExecOutput, error) {
	if p.db == nil {
		return ExecOutput{}, fmt.Errorf("postgres.exec: not connected")
	}
	p.logger().DebugContext(inv, "postgres.exec", "query", input.Query, "result", inv.Result.Name)

	result, err := p.db.ExecContext(inv, input.Query, input.Params...)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("postgres.exec: query failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ExecOutput{}, fmt.Errorf("postgres.exec: failed to get affected rows: %w", err)
	}

	return ExecOutput{AffectedRows: affected}, nil
}

func typeNames(colTypes []*sql.ColumnType) []string {
	names := make([]string, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.DatabaseTypeName()
	}
	return names
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRow scans a single row into a map, handling postgres-specific types
func scanRow(cols, types []string, rows scanner) (map[string]any, error) {
	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	result := make(map[string]any, len(cols))
	for i, col := range cols {
		val := values[i]

		switch types[i] {
		case "JSONB", "JSON", "UUID", "NUMERIC", "DECIMAL", "TEXT", "VARCHAR", "BPCHAR":
			if b, ok := val.([]byte); ok {
				result[col] = string(b)
				continue
			}
		}
		result[col] = val
	}

	return result, nil
}

var passwordParam = regexp.MustCompile(`(password=)\S+`)

// maskConnectionString hides the password of a connection string
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return passwordParam.ReplaceAllString(connStr, "${1}xxxxx")
	}
	return u.Redacted()
}
