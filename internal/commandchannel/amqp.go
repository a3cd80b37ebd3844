package commandchannel

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPConfig holds the AMQP channel configuration.
type AMQPConfig struct {
	URL                string
	CommandQueueName   string
	ResponseExchange   string
	ResponseRoutingKey string
}

// AMQP implements a Channel consuming commands from a queue and publishing
// responses to an exchange.
type AMQP struct {
	*bridge

	config AMQPConfig
	conn   *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel

	wg sync.WaitGroup
}

// NewAMQP connects to the AMQP server, declares the command queue and
// starts consuming.
func NewAMQP(c AMQPConfig) (*AMQP, error) {
	if c.ResponseExchange == "" {
		c.ResponseExchange = "amq.topic"
	}

	a := AMQP{
		config: c,
	}
	a.bridge = newBridge(TypeAMQP, a.publish)

	log.Info("commandchannel/amqp: connecting to AMQP server")

	var err error
	a.conn, err = amqp.Dial(c.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp server error")
	}

	a.ch, err = a.conn.Channel()
	if err != nil {
		a.conn.Close()
		return nil, errors.Wrap(err, "open channel error")
	}

	_, err = a.ch.QueueDeclare(
		c.CommandQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		a.conn.Close()
		return nil, errors.Wrap(err, "declare queue error")
	}

	msgs, err := a.ch.Consume(
		c.CommandQueueName,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		a.conn.Close()
		return nil, errors.Wrap(err, "register consumer error")
	}

	a.wg.Add(1)
	go a.commandLoop(msgs)

	return &a, nil
}

// Close closes the AMQP connection.
func (a *AMQP) Close() error {
	log.Info("commandchannel/amqp: closing channel")

	if err := a.bridge.Close(); err != nil {
		return err
	}
	if err := a.conn.Close(); err != nil {
		return errors.Wrap(err, "close amqp connection error")
	}
	a.wg.Wait()

	return nil
}

func (a *AMQP) publish(b []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.ch.Publish(
		a.config.ResponseExchange,
		a.config.ResponseRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        b,
		},
	)
	if err != nil {
		return errors.Wrap(err, "publish message error")
	}

	return nil
}

func (a *AMQP) commandLoop(msgs <-chan amqp.Delivery) {
	defer a.wg.Done()

	log.WithField("queue", a.config.CommandQueueName).Info("commandchannel/amqp: start consuming commands")

	for msg := range msgs {
		if err := a.deliver(msg.Body); err != nil {
			log.WithError(err).Error("commandchannel/amqp: deliver command error")
		}
	}

	log.Info("commandchannel/amqp: command consumer stopped")
}
