package credentials

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/storage"
)

// DefaultNamespace is the storage namespace used for the credentials.
const DefaultNamespace = "ttn"

// storage keys
const (
	keyDevEUI = "devEui"
	keyAppEUI = "appEui"
	keyAppKey = "appKey"
)

// Store persists and restores the device credentials.
type Store struct {
	// mu makes the three fields a single unit for readers, also on backends
	// which do not provide multi-key atomicity.
	mu        sync.RWMutex
	kv        storage.KV
	namespace string
}

// NewStore creates a new Store using the given key / value storage.
func NewStore(kv storage.KV, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Store{
		kv:        kv,
		namespace: namespace,
	}
}

// Persist writes the given credentials. All three fields are written before
// returning.
func (s *Store) Persist(ctx context.Context, c Credentials) error {
	devEUI, err := c.DevEUI.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "marshal dev_eui error")
	}
	appEUI, err := c.AppEUI.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "marshal app_eui error")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.kv.Set(ctx, s.namespace, map[string][]byte{
		keyDevEUI: devEUI,
		keyAppEUI: appEUI,
		keyAppKey: c.AppKey[:],
	})
	if err != nil {
		credentialsErrorCounter("persist").Inc()
		return errors.Wrap(err, "save credentials error")
	}

	log.WithFields(log.Fields{
		"dev_eui": c.DevEUI,
		"app_eui": c.AppEUI,
	}).Info("credentials: credentials saved")

	return nil
}

// Load returns the stored credentials. ErrNotProvisioned is returned when the
// credentials were never written or when any of the fields has an unexpected
// length.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	var c Credentials

	s.mu.RLock()
	vals, err := s.kv.Get(ctx, s.namespace, keyDevEUI, keyAppEUI, keyAppKey)
	s.mu.RUnlock()
	if err != nil {
		credentialsErrorCounter("load").Inc()
		return c, errors.Wrap(err, "read credentials error")
	}

	devEUI, appEUI, appKey := vals[keyDevEUI], vals[keyAppEUI], vals[keyAppKey]
	if len(devEUI) != len(c.DevEUI) || len(appEUI) != len(c.AppEUI) || len(appKey) != len(c.AppKey) {
		return c, ErrNotProvisioned
	}

	if err := c.DevEUI.UnmarshalBinary(devEUI); err != nil {
		return c, ErrNotProvisioned
	}
	if err := c.AppEUI.UnmarshalBinary(appEUI); err != nil {
		return c, ErrNotProvisioned
	}
	copy(c.AppKey[:], appKey)

	return c, nil
}

// IsComplete returns true when Load would return a complete set of
// credentials.
func (s *Store) IsComplete(ctx context.Context) bool {
	_, err := s.Load(ctx)
	if err != nil && errors.Cause(err) != ErrNotProvisioned {
		log.WithError(err).Error("credentials: read credentials error")
	}
	return err == nil
}
