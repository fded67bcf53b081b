package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"syscall"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

// Kind classifies a failure for the caller.
type Kind uint8

const (
	// Semantic failures (bad syntax, constraint violations) are never retried.
	Semantic Kind = iota
	// Transient failures (connection reset, timeouts, lock contention) are
	// retried by Execute.
	Transient
	// Configuration failures (unknown pool, bad connection parameters) fail fast.
	Configuration
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	default:
		return "semantic"
	}
}

var (
	ErrPoolNotFound      = errors.New("pool: not found")
	ErrPoolAlreadyExists = errors.New("pool: already exists")
	ErrClosed            = errors.New("pool: manager closed")
)

// Error is returned by every Manager operation that touched a pool.
type Error struct {
	Kind Kind
	Pool string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pool %q: %s (%s): %v", e.Pool, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

func (e *ConfigError) Unwrap() error { return e.Err }

// KindOf classifies err. Errors that never reached a pool are classified by
// inspection.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var ce *ConfigError
	switch {
	case errors.Is(err, ErrPoolNotFound), errors.Is(err, ErrPoolAlreadyExists), errors.As(err, &ce):
		return Configuration
	case IsTransient(err):
		return Transient
	default:
		return Semantic
	}
}

// IsTransient reports whether err belongs to the fixed retry whitelist:
// connection reset/refused, host not found, timeouts, lock wait timeouts and
// deadlocks, as reported by the net stack or any of the supported drivers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound || dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, // ER_LOCK_WAIT_TIMEOUT
			1213: // ER_LOCK_DEADLOCK
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", // deadlock_detected
			"55P03", // lock_not_available
			"40001": // serialization_failure
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case 5, // SQLITE_BUSY
			6: // SQLITE_LOCKED
			return true
		}
	}
	return false
}

// configErrorFrom turns ozzo validation errors into a ConfigError naming the
// first offending field in sorted order.
func configErrorFrom(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Field: "config", Message: err.Error(), Err: err}
	}
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	first := fields[0]
	return &ConfigError{Field: first, Message: verrs[first].Error(), Err: err}
}
