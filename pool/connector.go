package pool

import (
	"context"
	"database/sql/driver"
)

// countingConnector reports every physical connection it opens. This is the
// explicit replacement for listening to driver connection events.
type countingConnector struct {
	inner     driver.Connector
	onConnect func()
}

func (c countingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	c.onConnect()
	return conn, nil
}

func (c countingConnector) Driver() driver.Driver { return c.inner.Driver() }

// dsnConnector adapts a driver without DriverContext support.
type dsnConnector struct {
	dsn string
	drv driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.drv.Open(c.dsn) }
func (c dsnConnector) Driver() driver.Driver                        { return c.drv }

func connectorFor(drv driver.Driver, dsn string) (driver.Connector, error) {
	if dc, ok := drv.(driver.DriverContext); ok {
		return dc.OpenConnector(dsn)
	}
	return dsnConnector{dsn: dsn, drv: drv}, nil
}
