package operation

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/bacpac-orchestrator/internal/bacpac"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
)

// Request carries the inputs of one Start call. Backups use either a raw
// connection string or server credentials plus a selected database; restores
// always use credentials.
type Request struct {
	OutputPath          string `json:"output_path,omitempty"`
	UseConnectionString bool   `json:"use_connection_string,omitempty"`
	ConnectionString    string `json:"connection_string,omitempty"`

	Server   string `json:"server,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`

	BacpacPath        string `json:"bacpac_path,omitempty"`
	CreateNewDatabase bool   `json:"create_new_database,omitempty"`
	NewDatabaseName   string `json:"new_database_name,omitempty"`
}

// Credentials returns the server credentials of the request.
func (r Request) Credentials() connstr.Credentials {
	return connstr.Credentials{
		Server:   strings.TrimSpace(r.Server),
		User:     r.Username,
		Password: r.Password,
	}
}

// plan is a validated request ready for the engine.
type plan struct {
	connection string
	path       string
	database   string
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ValidateCredentials checks that server, username and password are present,
// in that order.
func ValidateCredentials(creds connstr.Credentials) *ValidationError {
	switch {
	case blank(creds.Server):
		return &ValidationError{Field: "server", Message: "Server is required.", Status: "Server required"}
	case blank(creds.User):
		return &ValidationError{Field: "username", Message: "Username is required.", Status: "Username required"}
	case blank(creds.Password):
		return &ValidationError{Field: "password", Message: "Password is required.", Status: "Password required"}
	}
	return nil
}

func planBackup(req Request, now time.Time) (plan, *ValidationError) {
	if blank(req.OutputPath) {
		return plan{}, &ValidationError{Field: "output_path", Message: "Output file path is required.", Status: "Output path required"}
	}

	var p plan
	if req.UseConnectionString {
		if blank(req.ConnectionString) {
			return plan{}, &ValidationError{Field: "connection_string", Message: "Connection string is required.", Status: "Connection string required"}
		}
		db, err := connstr.Database(req.ConnectionString)
		if err != nil {
			return plan{}, &ValidationError{
				Field:   "connection_string",
				Message: "Connection string must include Initial Catalog (or Database).",
				Status:  "Database missing in connection string",
			}
		}
		p.database = db
		p.connection = strings.TrimSpace(req.ConnectionString)
	} else {
		creds := req.Credentials()
		if verr := ValidateCredentials(creds); verr != nil {
			return plan{}, verr
		}
		if blank(req.Database) {
			return plan{}, &ValidationError{Field: "database", Message: "Select a database first.", Status: "Database required"}
		}
		p.database = strings.TrimSpace(req.Database)
		p.connection = connstr.Build(creds, p.database)
	}

	path, err := bacpac.ResolveExportPath(req.OutputPath, p.database, now)
	if err != nil {
		return plan{}, &ValidationError{
			Field:   "output_path",
			Message: fmt.Sprintf("Output file path is invalid: %v", err),
			Status:  "Output path invalid",
		}
	}
	p.path = path
	return p, nil
}

func planRestore(req Request) (plan, *ValidationError) {
	if blank(req.BacpacPath) {
		return plan{}, &ValidationError{Field: "bacpac_path", Message: "Bacpac file path is required.", Status: "Bacpac file required"}
	}
	creds := req.Credentials()
	if verr := ValidateCredentials(creds); verr != nil {
		return plan{}, verr
	}
	target := req.Database
	msg := "Select an existing database or choose new database mode."
	if req.CreateNewDatabase {
		target = req.NewDatabaseName
		msg = "New database name is required."
	}
	if blank(target) {
		return plan{}, &ValidationError{Field: "database", Message: msg, Status: "Target database required"}
	}
	target = strings.TrimSpace(target)
	return plan{
		connection: connstr.Build(creds, target),
		path:       strings.TrimSpace(req.BacpacPath),
		database:   target,
	}, nil
}
