package mysql

import (
	"context"
	"database/sql"
	"net"

	"github.com/fgeck/wpsnap/internal/models"
	gomysql "github.com/go-sql-driver/mysql"
)

// Opener opens a database handle for a DSN. Tests substitute go-sqlmock.
type Opener func(dsn string) (*sql.DB, error)

// DefaultOpener opens a handle with the go-sql-driver/mysql driver.
func DefaultOpener(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// FormatDSN builds a go-sql-driver DSN for cfg.
func FormatDSN(cfg models.DatabaseConfig) string {
	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	c.DBName = cfg.Name
	c.Timeout = cfg.ConnectTimeout
	return c.FormatDSN()
}

// CheckConnection opens a short-lived connection and pings the server.
// Any failure is logged and reported as false.
func (s *Impl) CheckConnection(ctx context.Context, cfg models.DatabaseConfig) bool {
	s.logger.Debug().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("checking database connectivity")

	db, err := s.opener(FormatDSN(cfg))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to open database handle")
		return false
	}
	defer func() { _ = db.Close() }()

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		s.logger.Error().
			Err(err).
			Str("host", cfg.Host).
			Str("port", cfg.Port).
			Msg("database connection failed")
		return false
	}

	s.logger.Info().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("successfully connected to the database")

	return true
}
