// Package sqlutil provides SQL utility functions.
package sqlutil

import (
	"fmt"
	"strings"
)

// Dialect identifies the SQL flavour of a database driver.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured driver name to its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql", "tidb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteANSIIdentifier quotes an identifier with double quotes, doubling any
// embedded double quote.
func QuoteANSIIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// Quote quotes a single identifier for the dialect.
func (d Dialect) Quote(name string) string {
	if d == MySQL {
		return QuoteIdentifier(name)
	}
	return QuoteANSIIdentifier(name)
}

// QuoteQualified quotes a possibly schema-qualified name such as
// "shop.orders", quoting each dot-separated part on its own.
func (d Dialect) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = d.Quote(part)
	}
	return strings.Join(parts, ".")
}
