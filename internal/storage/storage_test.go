package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/brocaar/chirpstack-end-device/internal/test"
)

type KVTestSuite struct {
	suite.Suite

	newKV func() KV
	kv    KV
}

func (ts *KVTestSuite) SetupTest() {
	ts.kv = ts.newKV()
}

func (ts *KVTestSuite) TearDownTest() {
	ts.Require().NoError(ts.kv.Close())
}

func (ts *KVTestSuite) TestGetAbsent() {
	assert := require.New(ts.T())

	vals, err := ts.kv.Get(context.Background(), "test-absent", "a", "b")
	assert.NoError(err)
	assert.Len(vals, 0)
}

func (ts *KVTestSuite) TestSetGet() {
	ctx := context.Background()

	ts.T().Run("Set", func(t *testing.T) {
		assert := require.New(t)
		assert.NoError(ts.kv.Set(ctx, "test", map[string][]byte{
			"a": {0x01, 0x02},
			"b": {0x03},
		}))
	})

	ts.T().Run("Get all", func(t *testing.T) {
		assert := require.New(t)
		vals, err := ts.kv.Get(ctx, "test", "a", "b", "c")
		assert.NoError(err)
		assert.Equal(map[string][]byte{
			"a": {0x01, 0x02},
			"b": {0x03},
		}, vals)
	})

	ts.T().Run("Overwrite", func(t *testing.T) {
		assert := require.New(t)
		assert.NoError(ts.kv.Set(ctx, "test", map[string][]byte{
			"a": {0x04},
		}))

		vals, err := ts.kv.Get(ctx, "test", "a", "b")
		assert.NoError(err)
		assert.Equal(map[string][]byte{
			"a": {0x04},
			"b": {0x03},
		}, vals)
	})

	ts.T().Run("Namespaces are isolated", func(t *testing.T) {
		assert := require.New(t)
		vals, err := ts.kv.Get(ctx, "other", "a", "b")
		assert.NoError(err)
		assert.Len(vals, 0)
	})
}

func (ts *KVTestSuite) TestPing() {
	ts.Require().NoError(ts.kv.Ping(context.Background()))
}

func TestMemoryKV(t *testing.T) {
	suite.Run(t, &KVTestSuite{
		newKV: func() KV {
			return NewMemory()
		},
	})
}

func TestRedisKV(t *testing.T) {
	conf := test.GetConfig()
	if conf.Storage.Redis.URL == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}

	suite.Run(t, &KVTestSuite{
		newKV: func() KV {
			opt, err := redis.ParseURL(conf.Storage.Redis.URL)
			if err != nil {
				t.Fatal(err)
			}
			client := redis.NewClient(opt)
			if err := client.FlushAll(context.Background()).Err(); err != nil {
				t.Fatal(err)
			}
			return NewRedis(client, "test:")
		},
	})
}

func TestRedisKey(t *testing.T) {
	assert := require.New(t)
	r := NewRedis(nil, "test:")

	// all keys of a namespace share the {namespace} hash tag
	for _, k := range []string{"devEui", "appEui", "appKey"} {
		key := r.key("ttn", k)
		assert.Equal("test:lora:device:{ttn}:"+k, key)
		assert.Equal("ttn", key[strings.Index(key, "{")+1:strings.Index(key, "}")])
	}
}

func TestPostgreSQLKV(t *testing.T) {
	conf := test.GetConfig()
	if conf.Storage.PostgreSQL.DSN == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	suite.Run(t, &KVTestSuite{
		newKV: func() KV {
			db, err := sqlx.Open("postgres", conf.Storage.PostgreSQL.DSN)
			if err != nil {
				t.Fatal(err)
			}
			if err := MigrateDown(db); err != nil {
				t.Fatal(err)
			}
			if err := MigrateUp(db); err != nil {
				t.Fatal(err)
			}
			return NewPostgreSQL(db)
		},
	})
}
