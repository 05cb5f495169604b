package engine

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDbUnknownType = errors.New("engine: unknown database type")
)

// Driver defines a structure for backend drivers to use when they register
// themselves as a backend which implements the Engine interface.
type Driver struct {
	// DbType is the identifier used to uniquely identify a specific
	// backend.
	DbType string

	// Open opens the database at dbPath, creating it when it does not
	// exist.  When create is set an existing database is an error.
	Open func(dbPath string, create bool) (Engine, error)
}

var drivers = make(map[string]*Driver)

// RegisterDriver adds a backend driver to the available engines.  It returns
// an error if a driver with the same type is already registered.
func RegisterDriver(driver Driver) error {
	if _, exists := drivers[driver.DbType]; exists {
		return fmt.Errorf("engine: driver %q is already registered",
			driver.DbType)
	}
	drivers[driver.DbType] = &driver
	return nil
}

// SupportedDrivers returns the sorted names of the registered backends.
func SupportedDrivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a database of the given type using the registered driver.
func Open(dbType, dbPath string, create bool) (Engine, error) {
	drv, exists := drivers[dbType]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrDbUnknownType, dbType)
	}
	return drv.Open(dbPath, create)
}
