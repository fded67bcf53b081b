package pool

import (
	"database/sql/driver"
	"net"
	"net/url"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
)

// Dialect names the SQL flavour of a pool's store.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const (
	defaultMaxConnections   = 10
	defaultAcquireTimeout   = 60 * time.Second
	defaultIdleTimeout      = 5 * time.Minute
	defaultMaxLifetime      = 30 * time.Minute
	defaultStatementTimeout = 30 * time.Second
	defaultSlowQuery        = time.Second
	defaultRetryAttempts    = 3
	defaultRetryDelay       = time.Second
	defaultBatchSize        = 1000
)

// Config describes one named pool. Either DSN or the connection fields must
// be set; Path is the database file for SQLite.
type Config struct {
	Dialect  Dialect
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Path     string

	MaxConnections     int           // 0 => 10
	MaxIdle            int           // 0 => MaxConnections
	AcquireTimeout     time.Duration // 0 => 60s
	IdleTimeout        time.Duration // 0 => 5m
	MaxLifetime        time.Duration // 0 => 30m
	StatementTimeout   time.Duration // 0 => 30s
	SlowQueryThreshold time.Duration // 0 => 1s
	RetryAttempts      int           // 0 => 3; <0 => none
	RetryDelay         time.Duration // 0 => 1s

	// VerifyOnCreate pings the store inside CreatePool so an unreachable
	// store fails registration instead of the first query.
	VerifyOnCreate bool

	// Driver overrides the dialect's driver. Used for instrumentation and tests.
	Driver driver.Driver
}

// Validate checks that the required connection parameters are present.
func (c Config) Validate() error {
	needsHost := c.DSN == "" && c.Dialect != SQLite && c.Driver == nil
	needsPath := c.DSN == "" && c.Dialect == SQLite && c.Driver == nil
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Dialect, validation.Required, validation.In(MySQL, Postgres, SQLite)),
		validation.Field(&c.Host, validation.When(needsHost, validation.Required)),
		validation.Field(&c.Database, validation.When(needsHost, validation.Required)),
		validation.Field(&c.Path, validation.When(needsPath, validation.Required)),
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.MaxConnections, validation.Min(0)),
		validation.Field(&c.MaxIdle, validation.Min(0)),
		validation.Field(&c.AcquireTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.StatementTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
	)
	return configErrorFrom(err)
}

func (c Config) withDefaults() Config {
	c.MaxConnections = coalesce(c.MaxConnections, defaultMaxConnections)
	c.MaxIdle = coalesce(c.MaxIdle, c.MaxConnections)
	c.AcquireTimeout = coalesce(c.AcquireTimeout, defaultAcquireTimeout)
	c.IdleTimeout = coalesce(c.IdleTimeout, defaultIdleTimeout)
	c.MaxLifetime = coalesce(c.MaxLifetime, defaultMaxLifetime)
	c.StatementTimeout = coalesce(c.StatementTimeout, defaultStatementTimeout)
	c.SlowQueryThreshold = coalesce(c.SlowQueryThreshold, defaultSlowQuery)
	c.RetryAttempts = coalesce(c.RetryAttempts, defaultRetryAttempts)
	c.RetryDelay = coalesce(c.RetryDelay, defaultRetryDelay)
	return c
}

// dataSourceName returns DSN or builds one from the connection fields.
func (c Config) dataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Dialect {
	case MySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(coalesce(c.Port, 3306)))
		mc.DBName = c.Database
		mc.ParseTime = true
		mc.Timeout = c.AcquireTimeout
		return mc.FormatDSN()
	case Postgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(coalesce(c.Port, 5432))),
			Path:   "/" + c.Database,
		}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		q := url.Values{}
		q.Set("connect_timeout", strconv.Itoa(int(c.AcquireTimeout/time.Second)))
		u.RawQuery = q.Encode()
		return u.String()
	default:
		return "file:" + c.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
}

func (c Config) driver() driver.Driver {
	if c.Driver != nil {
		return c.Driver
	}
	switch c.Dialect {
	case MySQL:
		return &mysql.MySQLDriver{}
	case Postgres:
		return stdlib.GetDefaultDriver()
	default:
		return &sqlite.Driver{}
	}
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
