// Package db opens the Presswork database and owns its schema.
package db

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/presswork/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a DSN for the MySQL driver. Times are parsed and stored in UTC.
func MySQLDSN(c config.DatabaseConfig) string {
	mc := gomysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range parseParams(c.Params) {
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

// PostgresDSN builds a keyword/value DSN for the pgx-backed postgres driver.
func PostgresDSN(c config.DatabaseConfig) string {
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + c.Name,
		"TimeZone=UTC",
	}
	if c.User != "" {
		parts = append(parts, "user="+c.User)
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	params := parseParams(c.Params)
	if _, ok := params["sslmode"]; !ok {
		params["sslmode"] = "disable"
	}
	for k, v := range params {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// SQLiteDSN returns the sqlite DSN for path. In-memory databases are passed through.
func SQLiteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// Connect opens a GORM connection using the configured driver.
func Connect(c config.DatabaseConfig) (*gorm.DB, error) {
	switch c.Driver {
	case "mysql":
		return open(mysql.Open(MySQLDSN(c)), fmt.Sprintf("mysql %s:%d/%s", c.Host, c.Port, c.Name))
	case "postgres":
		return open(postgres.Open(PostgresDSN(c)), fmt.Sprintf("postgres %s:%d/%s", c.Host, c.Port, c.Name))
	case "sqlite":
		return ConnectSQLite(c.Path)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}

// ConnectSQLite opens a sqlite database at path (":memory:" for an in-memory
// database). SQLite allows a single writer, so the pool is capped at one
// connection; this also keeps an in-memory database alive for the pool's
// lifetime.
func ConnectSQLite(path string) (*gorm.DB, error) {
	db, err := open(sqlite.Open(SQLiteDSN(path)), "sqlite "+path)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func open(dialector gorm.Dialector, desc string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", desc, err)
	}
	return db, nil
}

// IsDuplicateKey reports whether err is a unique constraint violation on any
// of the supported drivers.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}

func parseParams(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return out
	}
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
