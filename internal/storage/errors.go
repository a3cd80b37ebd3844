package storage

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// errors
var (
	ErrSchemaMissing = errors.New("kv_store table does not exist (is automigrate disabled?)")
)

// handlePSQLError maps the PostgreSQL errors the kv_store queries can run
// into to the storage errors. Other errors are wrapped with the given
// description.
func handlePSQLError(err error, description string) error {
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		switch e.Code.Name() {
		case "undefined_table":
			return errors.Wrap(ErrSchemaMissing, description)
		}
	}

	return errors.Wrap(err, description)
}
