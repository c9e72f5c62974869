package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"tidb-datatables/internal/sqlutil"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "tidb-datatables-custom"

// Dialect returns the SQL dialect for the configured driver.
func (d *DatabaseConfig) Dialect() (sqlutil.Dialect, error) {
	return sqlutil.ParseDialect(d.Driver)
}

// DSN returns the data source name for the configured driver.
// A configured ConnectionString wins over the discrete fields.
func (d *DatabaseConfig) DSN() (string, error) {
	dialect, err := d.Dialect()
	if err != nil {
		return "", err
	}
	switch dialect {
	case sqlutil.MySQL:
		return d.mysqlDSN()
	case sqlutil.Postgres:
		return d.postgresDSN()
	default:
		if d.ConnectionString != "" {
			return d.ConnectionString, nil
		}
		return d.Database, nil
	}
}

func (d *DatabaseConfig) mysqlDSN() (string, error) {
	cfg := mysql.NewConfig()
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
	}

	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	if cfg.TLSConfig == "" {
		cfg.TLSConfig = d.effectiveTLSParam()
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) postgresDSN() (string, error) {
	dsn := d.ConnectionString
	if dsn == "" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:   "/" + d.Database,
		}
		q := url.Values{}
		if mode := postgresSSLMode(d.TLS.Mode); mode != "" {
			q.Set("sslmode", mode)
		}
		if d.TLS.CAFile != "" {
			q.Set("sslrootcert", d.TLS.CAFile)
		}
		if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
			q.Set("sslcert", d.TLS.CertFile)
			q.Set("sslkey", d.TLS.KeyFile)
		}
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return dsn, nil
}

func postgresSSLMode(mode string) string {
	switch mode {
	case "off":
		return "disable"
	case "skip-verify":
		return "require"
	case "verify-ca", "verify-full":
		return mode
	default:
		return ""
	}
}

// effectiveTLSParam returns the MySQL tls parameter, or "" when TLS is not configured.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a mysql connection in verify-ca or verify-full mode.
// Other drivers take their TLS settings from the DSN.
func (d *DatabaseConfig) RegisterTLS() error {
	dialect, err := d.Dialect()
	if err != nil || dialect != sqlutil.MySQL {
		return err
	}
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	switch d.TLS.Mode {
	case "verify-ca":
		// Chain is checked against RootCAs; the hostname is not.
		tlsCfg.InsecureSkipVerify = true
		roots := tlsCfg.RootCAs
		tlsCfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(rawCerts, roots)
		}
	case "verify-full":
		tlsCfg.ServerName = d.TLS.ServerName
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = d.Host
		}
	}

	return tlsCfg, nil
}

func verifyChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("server presented no certificates")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parse server certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
	return err
}

// DatabaseName returns the target schema name, reading it from the DSN when
// the discrete field is empty. For sqlite it is the database file path.
func (d *DatabaseConfig) DatabaseName() string {
	if name := strings.TrimSpace(d.Database); name != "" {
		return name
	}
	dsn := strings.TrimSpace(d.ConnectionString)
	if dsn == "" {
		return ""
	}
	dialect, err := d.Dialect()
	if err != nil {
		return ""
	}
	switch dialect {
	case sqlutil.MySQL:
		if parsed, err := mysql.ParseDSN(dsn); err == nil {
			return parsed.DBName
		}
	case sqlutil.Postgres:
		if parsed, err := pgx.ParseConfig(dsn); err == nil {
			return parsed.Database
		}
	default:
		return dsn
	}
	return ""
}
