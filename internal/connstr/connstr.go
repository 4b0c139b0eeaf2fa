// Package connstr builds and inspects SQL Server connection strings for the
// two consumers in this repo: the transfer engine, which takes ADO.NET-style
// strings, and the go-mssqldb driver used for catalog queries.
package connstr

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/microsoft/go-mssqldb/msdsn"
)

// ConnectTimeoutSeconds matches the timeout used for every built connection.
const ConnectTimeoutSeconds = 30

// ErrNoDatabase is returned when a connection string names no database.
var ErrNoDatabase = errors.New("connection string must include 'Initial Catalog' or 'Database'")

// Credentials identify a server using SQL authentication.
type Credentials struct {
	Server   string `json:"server"`
	User     string `json:"username"`
	Password string `json:"password"`
}

// Build returns an ADO.NET connection string with encryption enabled and the
// server certificate trusted.
func Build(creds Credentials, database string) string {
	pairs := [][2]string{
		{"Data Source", creds.Server},
		{"Initial Catalog", database},
		{"User ID", creds.User},
		{"Password", creds.Password},
		{"Encrypt", "True"},
		{"TrustServerCertificate", "True"},
		{"Connection Timeout", fmt.Sprint(ConnectTimeoutSeconds)},
	}
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		parts = append(parts, kv[0]+"="+quote(kv[1]))
	}
	return strings.Join(parts, ";")
}

// DriverDSN returns a sqlserver:// URL for the go-mssqldb driver. The URL form
// escapes credentials that the ADO form cannot carry unambiguously.
func DriverDSN(creds Credentials, database string) string {
	host, instance := splitServer(creds.Server)
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   host,
	}
	if instance != "" {
		u.Path = instance
	}
	q := url.Values{}
	if database != "" {
		q.Set("database", database)
	}
	q.Set("encrypt", "true")
	q.Set("TrustServerCertificate", "true")
	q.Set("connection timeout", fmt.Sprint(ConnectTimeoutSeconds))
	u.RawQuery = q.Encode()
	return u.String()
}

// Database extracts the database named by a connection string.
func Database(connection string) (string, error) {
	cfg, err := msdsn.Parse(connection)
	if err != nil {
		return "", fmt.Errorf("parse connection string: %w", err)
	}
	name := unquote(strings.TrimSpace(cfg.Database))
	if name == "" {
		return "", ErrNoDatabase
	}
	return name, nil
}

func splitServer(server string) (host, instance string) {
	server = strings.TrimSpace(server)
	server = strings.TrimPrefix(server, "tcp:")
	if i := strings.IndexByte(server, '\\'); i >= 0 {
		server, instance = server[:i], server[i+1:]
	}
	if i := strings.IndexByte(server, ','); i >= 0 {
		return net.JoinHostPort(server[:i], strings.TrimSpace(server[i+1:])), instance
	}
	return server, instance
}

func quote(v string) string {
	if !strings.ContainsAny(v, ";'\"") && strings.TrimSpace(v) == v {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		q := string(v[0])
		return strings.ReplaceAll(v[1:len(v)-1], q+q, q)
	}
	return v
}
