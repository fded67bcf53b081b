package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
)

// flakyDriver fails the first `failures` queries with err, then answers
// every query with a single row holding 1.
type flakyDriver struct {
	mu         sync.Mutex
	failures   int
	calls      int
	err        error
	connectErr error
}

func resetErr() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
}

func (d *flakyDriver) Open(string) (driver.Conn, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return &flakyConn{d: d}, nil
}

func (d *flakyDriver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *flakyDriver) next() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return d.err
	}
	return nil
}

type flakyConn struct{ d *flakyDriver }

func (c *flakyConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare unsupported") }
func (c *flakyConn) Close() error                        { return nil }
func (c *flakyConn) Begin() (driver.Tx, error)           { return nil, errors.New("tx unsupported") }

func (c *flakyConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	if err := c.d.next(); err != nil {
		return nil, err
	}
	return &oneRow{}, nil
}

func (c *flakyConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	if err := c.d.next(); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

type oneRow struct{ done bool }

func (r *oneRow) Columns() []string { return []string{"one"} }
func (r *oneRow) Close() error      { return nil }
func (r *oneRow) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(1)
	return nil
}
