// Package device implements the session management of a LoRaWAN end-device:
// joining the network, transmitting uplinks and delivering downlinks to the
// application, and configuring the channel plan of the MAC engine.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/credentials"
	"github.com/brocaar/chirpstack-end-device/internal/hal"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
	"github.com/brocaar/chirpstack-end-device/internal/provisioning"
)

// DefaultRSSICal is the default listen-before-talk RSSI calibration (dB).
const DefaultRSSICal int8 = 10

// errors
var (
	ErrNotProvisioned      = credentials.ErrNotProvisioned
	ErrInvalidCredentials  = credentials.ErrInvalidCredentials
	ErrJoinFailed          = errors.New("join failed")
	ErrPinsNotConfigured   = errors.New("pins have not been configured")
	ErrPinsConfigured      = errors.New("pins have already been configured")
	ErrNotJoined           = errors.New("device has not joined the network")
	ErrProvisioningPending = errors.New("provisioning listener is waiting for credentials")
	ErrInvalidPort         = errors.New("invalid port")
	ErrEngineClosed        = errors.New("mac engine event channel closed")
)

// JoinState defines the join state of the device.
type JoinState int

// Join states.
const (
	Unprovisioned JoinState = iota
	Provisioned
	Joining
	Joined
)

func (s JoinState) String() string {
	switch s {
	case Unprovisioned:
		return "UNPROVISIONED"
	case Provisioned:
		return "PROVISIONED"
	case Joining:
		return "JOINING"
	case Joined:
		return "JOINED"
	default:
		return fmt.Sprintf("JoinState(%d)", int(s))
	}
}

// Option configures the Device.
type Option func(*Device)

// WithOpener sets the opener used by ConfigurePins. By default the radio is
// opened through periph.io.
func WithOpener(o hal.Opener) Option {
	return func(d *Device) {
		d.opener = o
	}
}

// Device is a LoRaWAN end-device.
//
// All operations involving the MAC engine are serialized. Join,
// TransmitMessage and Poll block until the engine reports the outcome. The
// message handler runs after the lock has been released, so it may call
// back into the Device.
type Device struct {
	// mu serializes all engine operations.
	mu     sync.Mutex
	engine mac.Engine
	opener hal.Opener
	radio  *hal.Radio

	provisioning *provisioning.Coordinator

	stateMu sync.RWMutex
	state   JoinState
	session *credentials.Credentials
	rssiCal int8

	handlerMu sync.RWMutex
	handler   MessageHandler
}

// New creates a new Device.
func New(engine mac.Engine, coordinator *provisioning.Coordinator, opts ...Option) *Device {
	d := Device{
		engine:       engine,
		opener:       &hal.PeriphOpener{},
		provisioning: coordinator,
		rssiCal:      DefaultRSSICal,
	}

	for _, o := range opts {
		o(&d)
	}

	return &d
}

// ConfigurePins validates the pin configuration, opens the radio and hands
// it to the MAC engine. It must be called before any other radio
// operation.
func (d *Device) ConfigurePins(pins hal.Pins) error {
	if err := pins.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.radio != nil {
		return ErrPinsConfigured
	}

	radio, err := d.opener.Open(pins)
	if err != nil {
		return errors.Wrap(err, "open radio error")
	}

	if err := d.engine.ConfigureRadio(radio); err != nil {
		radio.Close()
		return errors.Wrap(err, "configure radio error")
	}

	if err := d.engine.Reset(); err != nil {
		radio.Close()
		return errors.Wrap(err, "reset mac engine error")
	}

	d.engine.SetLBTCalibration(d.getRSSICal())
	d.radio = radio

	log.WithFields(log.Fields{
		"nss":  pins.NSS,
		"dio0": pins.DIO0,
		"dio1": pins.DIO1,
	}).Info("device: pins configured")

	return nil
}

// Reset resets the MAC engine. A joined device has to join again. The RSSI
// calibration is re-applied.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.radio == nil {
		return ErrPinsNotConfigured
	}

	if err := d.engine.Reset(); err != nil {
		return errors.Wrap(err, "reset mac engine error")
	}
	d.engine.SetLBTCalibration(d.getRSSICal())

	d.stateMu.Lock()
	if d.state == Joined || d.state == Joining {
		d.state = Provisioned
	}
	d.stateMu.Unlock()

	log.Info("device: mac engine reset")
	return nil
}

// State returns the join state.
func (d *Device) State() JoinState {
	d.stateMu.RLock()
	state := d.state
	d.stateMu.RUnlock()

	// credentials might have been provisioned by the listener
	if state == Unprovisioned && d.IsProvisioned(context.Background()) {
		d.setState(Unprovisioned, Provisioned)
		return Provisioned
	}

	return state
}

// IsProvisioned returns true when the device has a complete set of
// credentials, either stored or passed explicitly to Join.
func (d *Device) IsProvisioned(ctx context.Context) bool {
	d.stateMu.RLock()
	explicit := d.session != nil
	d.stateMu.RUnlock()

	return explicit || d.provisioning.Store().IsComplete(ctx)
}

// Provision validates and persists the given credentials.
func (d *Device) Provision(ctx context.Context, devEUI, appEUI, appKey string) error {
	ctx = d.newContext(ctx)
	if err := d.provisioning.Provision(ctx, devEUI, appEUI, appKey); err != nil {
		return err
	}

	d.setState(Unprovisioned, Provisioned)
	return nil
}

// ProvisionWithMAC validates and persists the given credentials, using the
// DevEUI derived from the MAC address.
func (d *Device) ProvisionWithMAC(ctx context.Context, appEUI, appKey string) error {
	ctx = d.newContext(ctx)
	if err := d.provisioning.ProvisionWithMAC(ctx, appEUI, appKey); err != nil {
		return err
	}

	d.setState(Unprovisioned, Provisioned)
	return nil
}

// WaitForProvisioning blocks until the device has been provisioned.
func (d *Device) WaitForProvisioning(ctx context.Context) error {
	ctx = d.newContext(ctx)
	if err := d.provisioning.WaitForProvisioning(ctx); err != nil {
		return err
	}

	d.setState(Unprovisioned, Provisioned)
	return nil
}

// SetRSSICal sets the listen-before-talk RSSI calibration (dB). The value
// is applied when the pins are configured and after every Reset.
func (d *Device) SetRSSICal(dB int8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stateMu.Lock()
	d.rssiCal = dB
	d.stateMu.Unlock()

	if d.radio != nil {
		d.engine.SetLBTCalibration(dB)
	}

	log.WithField("rssi_cal", dB).Info("device: rssi calibration set")
}

// Close stops the provisioning listener and releases the radio.
func (d *Device) Close() error {
	if err := d.provisioning.Close(); err != nil {
		return errors.Wrap(err, "close provisioning error")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.radio != nil {
		if err := d.radio.Close(); err != nil {
			return errors.Wrap(err, "close radio error")
		}
		d.radio = nil
	}

	return nil
}

func (d *Device) getRSSICal() int8 {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.rssiCal
}

func (d *Device) getState() JoinState {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// setState sets the state to to when the current state is from.
func (d *Device) setState(from, to JoinState) bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if d.state != from {
		return false
	}
	d.state = to

	log.WithFields(log.Fields{
		"from": from,
		"to":   to,
	}).Debug("device: join state changed")
	return true
}

func (d *Device) newContext(ctx context.Context) context.Context {
	ctx, err := logging.NewContext(ctx)
	if err != nil {
		log.WithError(err).Error("device: create context error")
	}
	return ctx
}

// drainEvents discards stale events.
func (d *Device) drainEvents(ctx context.Context) {
	for {
		select {
		case ev, ok := <-d.engine.Events():
			if !ok {
				return
			}
			logging.FromContext(ctx).WithField("event", ev.Type).Warning("device: discarding stale mac event")
		default:
			return
		}
	}
}
