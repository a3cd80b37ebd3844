// Package commandchannel implements the line based channels over which
// provisioning commands are received and responses are sent.
package commandchannel

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/config"
)

// Channel types.
const (
	TypeStdio  = "stdio"
	TypeSerial = "serial"
	TypeMQTT   = "mqtt"
	TypeAMQP   = "amqp"
)

// Channel is a bi-directional stream of lines.
type Channel interface {
	io.ReadWriteCloser
}

// New creates the channel configured under provisioning.channel.
func New(c config.Config) (Channel, error) {
	conf := c.Provisioning

	log.WithField("type", conf.Channel).Info("commandchannel: setting up command channel")

	switch conf.Channel {
	case "", TypeStdio:
		return NewStdio(), nil
	case TypeSerial:
		return NewSerial(conf.Serial.Port, conf.Serial.BaudRate)
	case TypeMQTT:
		return NewMQTT(MQTTConfig{
			Server:        conf.MQTT.Server,
			Username:      conf.MQTT.Username,
			Password:      conf.MQTT.Password,
			QOS:           conf.MQTT.QOS,
			ClientID:      conf.MQTT.ClientID,
			CommandTopic:  conf.MQTT.CommandTopic,
			ResponseTopic: conf.MQTT.ResponseTopic,
		})
	case TypeAMQP:
		return NewAMQP(AMQPConfig{
			URL:                conf.AMQP.URL,
			CommandQueueName:   conf.AMQP.CommandQueueName,
			ResponseExchange:   conf.AMQP.ResponseExchange,
			ResponseRoutingKey: conf.AMQP.ResponseRoutingKey,
		})
	default:
		return nil, errors.Errorf("commandchannel: unknown channel type: %s", conf.Channel)
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

// NewStdio returns a channel reading from stdin and writing to stdout.
func NewStdio() Channel {
	return &stdio{
		Reader: os.Stdin,
		Writer: os.Stdout,
	}
}

// Close is a no-op, stdin and stdout are owned by the process.
func (s *stdio) Close() error {
	return nil
}

// bridge turns message based transports into a Channel. Every received
// message is delivered as a line, every written line is published as a
// message.
type bridge struct {
	typ     string
	pr      *io.PipeReader
	pw      *io.PipeWriter
	publish func([]byte) error

	mu  sync.Mutex
	buf []byte
}

func newBridge(typ string, publish func([]byte) error) *bridge {
	pr, pw := io.Pipe()
	return &bridge{
		typ:     typ,
		pr:      pr,
		pw:      pw,
		publish: publish,
	}
}

// deliver writes the received message as a line. It blocks until the
// line has been read.
func (b *bridge) deliver(msg []byte) error {
	line := make([]byte, 0, len(msg)+1)
	line = append(line, msg...)
	if len(line) == 0 || (line[len(line)-1] != '\n' && line[len(line)-1] != '\r') {
		line = append(line, '\n')
	}

	if _, err := b.pw.Write(line); err != nil {
		return errors.Wrap(err, "write line error")
	}

	lineReceivedCounter(b.typ).Inc()
	return nil
}

func (b *bridge) Read(p []byte) (int, error) {
	return b.pr.Read(p)
}

// Write publishes every complete, non-empty line.
func (b *bridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i == -1 {
			break
		}

		line := bytes.TrimRight(b.buf[:i], "\r")
		if len(line) != 0 {
			out := make([]byte, len(line))
			copy(out, line)
			if err := b.publish(out); err != nil {
				b.buf = b.buf[i+1:]
				return 0, errors.Wrap(err, "publish line error")
			}
			lineSentCounter(b.typ).Inc()
		}
		b.buf = b.buf[i+1:]
	}

	return len(p), nil
}

// Close closes the pipe, pending and future reads return io.EOF.
func (b *bridge) Close() error {
	return b.pw.Close()
}
