package dbmodel

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/schemadrift/engine/internal/model"
)

// Connector opens a *sql.DB for a subscription's DatabaseConnection. It is
// the seam the design notes call for in place of the source's
// per-instance static test hooks: tests supply a fake Connector instead of
// overriding package-level state.
type Connector interface {
	Open(ctx context.Context, conn model.DatabaseConnection) (*sql.DB, error)
}

// SQLServerConnector opens real connections via github.com/microsoft/go-mssqldb,
// the same "sqlserver" driver and DSN shape as the teacher's
// database/mssql/database.go mssqlBuildDSN.
type SQLServerConnector struct{}

func (SQLServerConnector) Open(ctx context.Context, conn model.DatabaseConnection) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", buildDSN(conn))
	if err != nil {
		return nil, fmt.Errorf("opening sqlserver connection: %w", err)
	}

	timeout := conn.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s/%s: %w", conn.Server, conn.Database, err)
	}
	return db, nil
}

func buildDSN(conn model.DatabaseConnection) string {
	query := url.Values{}
	query.Add("database", conn.Database)
	if conn.TrustCertificate {
		query.Add("trustservercertificate", "true")
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   conn.Server,
	}
	switch conn.Auth {
	case model.AuthUsernameSecret:
		u.User = url.UserPassword(conn.Username, string(conn.Secret))
	case model.AuthIntegrated:
		query.Add("integrated security", "sspi")
	case model.AuthCloudInteractive:
		query.Add("fedauth", "ActiveDirectoryInteractive")
	case model.AuthCloudNonInteractive:
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		u.User = url.UserPassword(conn.Username, string(conn.Secret))
	}
	u.RawQuery = query.Encode()
	return u.String()
}
