package commandchannel

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// NewSerial opens the given serial port (8N1).
func NewSerial(port string, baudRate int) (Channel, error) {
	if baudRate == 0 {
		baudRate = 115200
	}

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open serial port error")
	}

	log.WithFields(log.Fields{
		"port":      port,
		"baud_rate": baudRate,
	}).Info("commandchannel: serial port opened")

	return p, nil
}
