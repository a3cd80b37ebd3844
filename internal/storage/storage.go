package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/config"
)

// Backend types.
const (
	TypeMemory     = "memory"
	TypeRedis      = "redis"
	TypePostgreSQL = "postgresql"
)

// KV defines the namespaced key / value storage contract.
//
// Get returns the values of the requested keys which are present, absent keys
// are omitted from the returned map. Set writes all given values at once:
// a concurrent Get for the same keys observes either all old or all new
// values.
type KV interface {
	Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, namespace string, values map[string][]byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Setup configures the storage backend.
func Setup(c config.Config) (KV, error) {
	log.WithField("type", c.Storage.Type).Info("storage: setting up storage module")

	switch c.Storage.Type {
	case "", TypeMemory:
		return NewMemory(), nil
	case TypeRedis:
		client, err := newRedisClient(c)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, c.Storage.Redis.KeyPrefix), nil
	case TypePostgreSQL:
		db, err := connectPostgreSQL(c)
		if err != nil {
			return nil, err
		}

		if c.Storage.PostgreSQL.Automigrate {
			if err := MigrateUp(db); err != nil {
				db.Close()
				return nil, err
			}
		}

		return NewPostgreSQL(db), nil
	default:
		return nil, fmt.Errorf("storage: unknown storage type: %s", c.Storage.Type)
	}
}

func newRedisClient(c config.Config) (redis.UniversalClient, error) {
	log.Info("storage: setting up Redis client")

	servers := c.Storage.Redis.Servers
	db := c.Storage.Redis.Database
	password := c.Storage.Redis.Password

	if c.Storage.Redis.URL != "" {
		opt, err := redis.ParseURL(c.Storage.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "storage: redis url error")
		}

		servers = []string{opt.Addr}
		db = opt.DB
		password = opt.Password
	}

	if len(servers) == 0 {
		return nil, errors.New("storage: at least one redis server must be configured")
	}

	var tlsConfig *tls.Config
	if c.Storage.Redis.TLSEnabled {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	if c.Storage.Redis.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     servers,
			PoolSize:  c.Storage.Redis.PoolSize,
			Password:  password,
			TLSConfig: tlsConfig,
		}), nil
	}

	if c.Storage.Redis.MasterName != "" {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       c.Storage.Redis.MasterName,
			SentinelAddrs:    servers,
			SentinelPassword: password,
			DB:               db,
			PoolSize:         c.Storage.Redis.PoolSize,
			TLSConfig:        tlsConfig,
		}), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:      servers[0],
		DB:        db,
		Password:  password,
		PoolSize:  c.Storage.Redis.PoolSize,
		TLSConfig: tlsConfig,
	}), nil
}

func connectPostgreSQL(c config.Config) (*sqlx.DB, error) {
	log.Info("storage: connecting to PostgreSQL")
	d, err := sqlx.Open("postgres", c.Storage.PostgreSQL.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "storage: PostgreSQL connection error")
	}
	d.SetMaxOpenConns(c.Storage.PostgreSQL.MaxOpenConnections)
	d.SetMaxIdleConns(c.Storage.PostgreSQL.MaxIdleConnections)

	for {
		if err := d.Ping(); err != nil {
			log.WithError(err).Warning("storage: ping PostgreSQL database error, will retry in 2s")
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return d, nil
}

// GetRedisKey returns the Redis key given a template and parameters.
func GetRedisKey(tmpl string, params ...interface{}) string {
	return fmt.Sprintf(tmpl, params...)
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
