// Package provisioning implements the provisioning of the device
// credentials, either by the application or by a listener processing
// commands received over a command channel.
package provisioning

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/commandchannel"
	"github.com/brocaar/chirpstack-end-device/internal/credentials"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/lorawan"
)

// ErrNoHardwareAddress is returned when no suitable MAC address was found.
var ErrNoHardwareAddress = errors.New("no hardware address found")

// MACAddressSource provides the MAC address used to derive the DevEUI.
type MACAddressSource interface {
	HardwareAddr() (net.HardwareAddr, error)
}

// StaticMACAddress is a MACAddressSource returning a fixed address.
type StaticMACAddress net.HardwareAddr

// HardwareAddr returns the static address.
func (s StaticMACAddress) HardwareAddr() (net.HardwareAddr, error) {
	if len(s) == 0 {
		return nil, ErrNoHardwareAddress
	}
	return net.HardwareAddr(s), nil
}

// InterfaceMACAddress returns the MAC address of the first network interface
// which is not a loopback interface and has a 6 byte hardware address.
type InterfaceMACAddress struct{}

// HardwareAddr returns the address of the first suitable interface.
func (InterfaceMACAddress) HardwareAddr() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "get network interfaces error")
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return iface.HardwareAddr, nil
	}

	return nil, ErrNoHardwareAddress
}

// NewMACAddressSource returns a StaticMACAddress when addr is set, or
// InterfaceMACAddress otherwise.
func NewMACAddressSource(addr string) (MACAddressSource, error) {
	if addr == "" {
		return InterfaceMACAddress{}, nil
	}

	mac, err := net.ParseMAC(addr)
	if err != nil {
		return nil, errors.Wrap(err, "parse hardware address error")
	}
	return StaticMACAddress(mac), nil
}

// Coordinator coordinates the provisioning of the device credentials.
type Coordinator struct {
	store     *credentials.Store
	macSource MACAddressSource

	mu       sync.Mutex
	started  bool
	running  bool
	cancel   context.CancelFunc
	provOnce sync.Once
	provDone chan struct{}

	wg sync.WaitGroup
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(store *credentials.Store, macSource MACAddressSource) *Coordinator {
	return &Coordinator{
		store:     store,
		macSource: macSource,
		provDone:  make(chan struct{}),
	}
}

// Store returns the credentials store.
func (c *Coordinator) Store() *credentials.Store {
	return c.store
}

// Provision validates and persists the given HEX encoded credentials. The
// store is left untouched when validation fails.
func (c *Coordinator) Provision(ctx context.Context, devEUI, appEUI, appKey string) error {
	creds, err := credentials.Decode(devEUI, appEUI, appKey)
	if err != nil {
		provisionCounter("explicit", "invalid").Inc()
		return err
	}

	return c.persist(ctx, "explicit", creds)
}

// ProvisionWithMAC validates and persists the given HEX encoded AppEUI and
// AppKey, using the DevEUI derived from the MAC address.
func (c *Coordinator) ProvisionWithMAC(ctx context.Context, appEUI, appKey string) error {
	devEUI, err := c.DeviceEUI()
	if err != nil {
		return err
	}

	creds, err := credentials.DecodeWithDevEUI(devEUI, appEUI, appKey)
	if err != nil {
		provisionCounter("mac", "invalid").Inc()
		return err
	}

	return c.persist(ctx, "mac", creds)
}

// DeviceEUI returns the DevEUI derived from the MAC address.
func (c *Coordinator) DeviceEUI() (lorawan.EUI64, error) {
	mac, err := c.macSource.HardwareAddr()
	if err != nil {
		return lorawan.EUI64{}, errors.Wrap(err, "get hardware address error")
	}

	return credentials.DeviceEUIFromMAC(mac)
}

// StartListener starts the provisioning listener on the given channel.
// Only one listener can be started per Coordinator, false is returned when
// a listener was already started. The listener stops when ctx is cancelled
// or Close is called.
func (c *Coordinator) StartListener(ctx context.Context, ch commandchannel.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		log.Warning("provisioning: listener already started")
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	c.started = true
	c.running = true
	c.cancel = cancel

	l := listener{
		coordinator: c,
		channel:     ch,
	}

	// serve is not waited for by Close, as reads from some channels
	// (e.g. stdin) can not be interrupted.
	go func() {
		l.serve(ctx)

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-ctx.Done()
		if err := ch.Close(); err != nil {
			log.WithError(err).Error("provisioning: close command channel error")
		}
	}()

	log.Info("provisioning: listener started")
	return true
}

// ListenerActive returns true when the listener is running and the
// credentials have not yet been provisioned.
func (c *Coordinator) ListenerActive(ctx context.Context) bool {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	return running && !c.store.IsComplete(ctx)
}

// WaitForProvisioning returns immediately when the stored credentials are
// complete, otherwise it blocks until the listener has persisted a valid
// set of credentials or ctx is done.
func (c *Coordinator) WaitForProvisioning(ctx context.Context) error {
	if c.store.IsComplete(ctx) {
		return nil
	}

	logging.FromContext(ctx).Info("provisioning: waiting for provisioning")

	select {
	case <-c.provDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the listener and closes its command channel.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.running = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *Coordinator) persist(ctx context.Context, method string, creds credentials.Credentials) error {
	if err := c.store.Persist(ctx, creds); err != nil {
		provisionCounter(method, "error").Inc()
		return errors.Wrap(err, "persist credentials error")
	}

	provisionCounter(method, "ok").Inc()
	logging.FromContext(ctx).WithFields(log.Fields{
		"dev_eui": creds.DevEUI,
		"app_eui": creds.AppEUI,
		"method":  method,
	}).Info("provisioning: device provisioned")

	return nil
}

// signalProvisioned wakes up all WaitForProvisioning callers.
func (c *Coordinator) signalProvisioned() {
	c.provOnce.Do(func() {
		close(c.provDone)
	})
}
