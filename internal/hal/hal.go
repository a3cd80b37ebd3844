// Package hal resolves the SPI port and GPIO pins connecting the LoRa
// transceiver.
package hal

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// NotConnected marks an optional pin as not connected.
const NotConnected = ""

// ErrInvalidPins is returned when a required pin is not configured.
var ErrInvalidPins = errors.New("invalid pin configuration")

// Pins defines the transceiver wiring. Pins are referenced by their
// periph.io name (e.g. GPIO18). NSS, DIO0 and DIO1 are required, RXTX and RST
// may be left NotConnected.
type Pins struct {
	SPIPort string
	NSS     string
	RXTX    string
	RST     string
	DIO0    string
	DIO1    string
}

// Validate validates the pin configuration.
func (p Pins) Validate() error {
	for _, pin := range []struct {
		name  string
		value string
	}{
		{"nss", p.NSS},
		{"dio0", p.DIO0},
		{"dio1", p.DIO1},
	} {
		if pin.value == NotConnected {
			return errors.Wrapf(ErrInvalidPins, "pin %s is required", pin.name)
		}
	}

	return nil
}

// Radio holds the opened transceiver resources. RXTX and RST are nil when
// not connected. Port is nil for a virtual radio.
type Radio struct {
	Pins Pins
	Port spi.PortCloser

	NSS  gpio.PinIO
	RXTX gpio.PinIO
	RST  gpio.PinIO
	DIO0 gpio.PinIO
	DIO1 gpio.PinIO
}

// Close releases the SPI port.
func (r *Radio) Close() error {
	if r.Port == nil {
		return nil
	}
	if err := r.Port.Close(); err != nil {
		return errors.Wrap(err, "close spi port error")
	}
	return nil
}

// Opener opens the radio for the given pins.
type Opener interface {
	Open(p Pins) (*Radio, error)
}

// PeriphOpener opens the radio using the periph.io host drivers.
type PeriphOpener struct {
	// Init initializes the host drivers, defaults to host.Init.
	Init func() error
	// OpenPort opens the SPI port, defaults to spireg.Open.
	OpenPort func(name string) (spi.PortCloser, error)
	// ByName resolves a GPIO pin, defaults to gpioreg.ByName.
	ByName func(name string) gpio.PinIO

	once    sync.Once
	initErr error
}

// Open validates the pins, opens the SPI port and configures the GPIO pins.
// NSS, RXTX and RST are set to output low, DIO0 and DIO1 to input with
// rising edge detection.
func (o *PeriphOpener) Open(p Pins) (*Radio, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	o.once.Do(func() {
		if o.Init == nil {
			o.Init = func() error {
				_, err := host.Init()
				return err
			}
		}
		if o.OpenPort == nil {
			o.OpenPort = spireg.Open
		}
		if o.ByName == nil {
			o.ByName = gpioreg.ByName
		}
		o.initErr = o.Init()
	})
	if o.initErr != nil {
		return nil, errors.Wrap(o.initErr, "init host drivers error")
	}

	r := Radio{
		Pins: p,
	}

	for _, out := range []struct {
		name string
		pin  string
		into *gpio.PinIO
	}{
		{"nss", p.NSS, &r.NSS},
		{"rxtx", p.RXTX, &r.RXTX},
		{"rst", p.RST, &r.RST},
	} {
		if out.pin == NotConnected {
			continue
		}
		pin, err := o.resolve(out.name, out.pin)
		if err != nil {
			return nil, err
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, errors.Wrapf(err, "set pin %s output error", out.name)
		}
		*out.into = pin
	}

	for _, in := range []struct {
		name string
		pin  string
		into *gpio.PinIO
	}{
		{"dio0", p.DIO0, &r.DIO0},
		{"dio1", p.DIO1, &r.DIO1},
	} {
		pin, err := o.resolve(in.name, in.pin)
		if err != nil {
			return nil, err
		}
		if err := pin.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
			return nil, errors.Wrapf(err, "set pin %s input error", in.name)
		}
		*in.into = pin
	}

	port, err := o.OpenPort(p.SPIPort)
	if err != nil {
		return nil, errors.Wrap(err, "open spi port error")
	}
	r.Port = port

	log.WithFields(log.Fields{
		"spi_port": p.SPIPort,
		"nss":      p.NSS,
		"dio0":     p.DIO0,
		"dio1":     p.DIO1,
	}).Info("hal: radio opened")

	return &r, nil
}

func (o *PeriphOpener) resolve(name, pin string) (gpio.PinIO, error) {
	p := o.ByName(pin)
	if p == nil {
		return nil, errors.Wrapf(ErrInvalidPins, "pin %s: unknown gpio %s", name, pin)
	}
	return p, nil
}

// VirtualOpener validates the pins and returns a Radio without touching any
// hardware. It is used together with the simulated MAC engine.
type VirtualOpener struct{}

// Open validates the pins and returns a virtual radio.
func (VirtualOpener) Open(p Pins) (*Radio, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	log.WithField("nss", p.NSS).Info("hal: virtual radio opened")
	return &Radio{Pins: p}, nil
}
