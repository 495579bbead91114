package config

import (
	"fmt"
	"net/url"
	"strings"
)

// DSN returns a PostgreSQL connection URL. If ConnectionString is set, it is
// used directly with sslmode applied when absent. Otherwise the URL is built
// from the discrete fields.
func (d *DatabaseConfig) DSN() string {
	if d.ConnectionString != "" {
		dsn := d.ConnectionString
		if d.SSLMode != "" && !strings.Contains(dsn, "sslmode=") {
			if strings.Contains(dsn, "?") {
				dsn += "&sslmode=" + d.SSLMode
			} else {
				dsn += "?sslmode=" + d.SSLMode
			}
		}
		return dsn
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// EffectiveDatabaseName returns the database the catalog introspects,
// preferring the explicit setting and cross-checking it against the DSN.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	configured := strings.TrimSpace(d.Database)
	dsnDatabase, err := parseDSNDatabaseName(d.ConnectionString)
	if err != nil {
		return "", err
	}

	if configured != "" {
		if dsnDatabase != "" && configured != dsnDatabase {
			return "", fmt.Errorf(
				"database mismatch: database.database=%q but database.dsn targets %q",
				configured, dsnDatabase)
		}
		return configured, nil
	}
	if dsnDatabase != "" {
		return dsnDatabase, nil
	}
	return "", fmt.Errorf("no database configured: set database.database or include one in database.dsn")
}

func parseDSNDatabaseName(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid database DSN: %w", err)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}
