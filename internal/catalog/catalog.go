// Package catalog queries SQL Server for the databases a user may back up and
// checks that a connection can be opened.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Registers the "sqlserver" driver.
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
)

const (
	driverName = "sqlserver"

	listUserDatabasesSQL = `SELECT [name] FROM sys.databases WHERE [database_id] > 4 AND [state] = 0 ORDER BY [name];`
	pingSQL              = `SELECT 1;`
)

// OpenFunc opens a database handle for a driver DSN.
type OpenFunc func(dsn string) (*sql.DB, error)

// Catalog runs short-lived catalog queries. Each call opens and closes its
// own handle; the queries are rare and interactive.
type Catalog struct {
	open   OpenFunc
	logger *zap.Logger
}

// New constructs a Catalog using the go-mssqldb driver.
func New(logger *zap.Logger) *Catalog {
	return NewWithOpener(func(dsn string) (*sql.DB, error) {
		return sql.Open(driverName, dsn)
	}, logger)
}

// NewWithOpener constructs a Catalog with a custom opener.
func NewWithOpener(open OpenFunc, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{open: open, logger: logger.Named("catalog")}
}

// ListUserDatabases returns the online user databases on the server, sorted by
// name. System databases are excluded.
func (c *Catalog) ListUserDatabases(ctx context.Context, creds connstr.Credentials) ([]string, error) {
	db, err := c.open(connstr.DriverDSN(creds, "master"))
	if err != nil {
		return nil, fmt.Errorf("open catalog connection: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, listUserDatabasesSQL)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	names, err := collectNames(rows)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	c.logger.Debug("listed databases", zap.String("server", creds.Server), zap.Int("count", len(names)))
	return names, nil
}

// TestConnection opens dsn and runs a trivial query. Both ADO-style strings
// and sqlserver:// URLs are accepted.
func (c *Catalog) TestConnection(ctx context.Context, dsn string) error {
	db, err := c.open(strings.TrimSpace(dsn))
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, pingSQL).Scan(&one); err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectNames(rows rowScanner) ([]string, error) {
	names := []string{}
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !name.Valid || strings.TrimSpace(name.String) == "" {
			continue
		}
		names = append(names, name.String)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}
