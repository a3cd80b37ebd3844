package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PostgreSQL implements a PostgreSQL backed KV.
type PostgreSQL struct {
	db *sqlx.DB
}

// NewPostgreSQL creates a new PostgreSQL store. The kv_store table must
// exist, see MigrateUp.
func NewPostgreSQL(db *sqlx.DB) *PostgreSQL {
	return &PostgreSQL{
		db: db,
	}
}

// DB returns the underlying database handle.
func (p *PostgreSQL) DB() *sqlx.DB {
	return p.db
}

// Get returns the present values for the given keys using a single query.
func (p *PostgreSQL) Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if len(keys) == 0 {
		return out, nil
	}

	var rows []struct {
		Key   string `db:"key"`
		Value []byte `db:"value"`
	}

	err := sqlx.SelectContext(ctx, p.db, &rows, `
		select
			key,
			value
		from
			kv_store
		where
			namespace = $1
			and key = any($2)`,
		namespace,
		pq.StringArray(keys),
	)
	if err != nil {
		kvErrorCounter(TypePostgreSQL).Inc()
		return nil, handlePSQLError(err, "select error")
	}

	for _, r := range rows {
		out[r.Key] = r.Value
	}

	kvGetCounter(TypePostgreSQL).Inc()
	return out, nil
}

// Set upserts the given values within a single transaction.
func (p *PostgreSQL) Set(ctx context.Context, namespace string, values map[string][]byte) error {
	err := Transaction(p.db, func(tx *sqlx.Tx) error {
		for k, v := range values {
			_, err := tx.ExecContext(ctx, `
				insert into kv_store (
					namespace,
					key,
					value,
					updated_at
				) values ($1, $2, $3, now())
				on conflict (namespace, key) do update
				set
					value = excluded.value,
					updated_at = excluded.updated_at`,
				namespace,
				k,
				v,
			)
			if err != nil {
				return handlePSQLError(err, "insert error")
			}
		}
		return nil
	})
	if err != nil {
		kvErrorCounter(TypePostgreSQL).Inc()
		return err
	}

	log.WithFields(log.Fields{
		"namespace": namespace,
		"keys":      len(values),
	}).Debug("storage: postgresql values saved")

	kvSetCounter(TypePostgreSQL).Inc()
	return nil
}

// Ping pings the database.
func (p *PostgreSQL) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "postgresql ping error")
	}
	return nil
}

// Close closes the database handle.
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
