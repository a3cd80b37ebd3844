// Package test contains helpers shared by the package tests.
package test

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/config"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// GetConfig returns the test configuration. The Redis and PostgreSQL
// settings are only set when TEST_REDIS_URL and TEST_POSTGRES_DSN are
// present in the environment, tests depending on them must skip otherwise.
func GetConfig() config.Config {
	log.SetLevel(log.ErrorLevel)

	var c config.Config
	c.General.LogLevel = int(log.ErrorLevel)
	c.Storage.Type = "memory"
	c.Storage.Namespace = "ttn"
	c.Storage.Redis.PoolSize = 5
	c.Storage.PostgreSQL.MaxOpenConnections = 5
	c.Storage.PostgreSQL.MaxIdleConnections = 2
	c.Device.Band = "EU868"
	c.Device.RSSICal = 10

	if v := os.Getenv("TEST_REDIS_URL"); v != "" {
		c.Storage.Redis.URL = v
	}

	if v := os.Getenv("TEST_POSTGRES_DSN"); v != "" {
		c.Storage.PostgreSQL.DSN = v
	}

	return c
}
