package commandchannel

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MQTTConfig holds the MQTT channel configuration.
type MQTTConfig struct {
	Server        string
	Username      string
	Password      string
	QOS           uint8
	ClientID      string
	CommandTopic  string
	ResponseTopic string
}

// MQTT implements a Channel on top of a MQTT command and response topic.
type MQTT struct {
	*bridge

	conn   paho.Client
	config MQTTConfig
}

// NewMQTT connects to the MQTT broker and subscribes to the command topic.
func NewMQTT(c MQTTConfig) (*MQTT, error) {
	if c.CommandTopic == "" || c.ResponseTopic == "" {
		return nil, errors.New("commandchannel/mqtt: command and response topic must be set")
	}

	m := MQTT{
		config: c,
	}
	m.bridge = newBridge(TypeMQTT, m.publish)

	opts := paho.NewClientOptions()
	opts.AddBroker(c.Server)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetClientID(c.ClientID)
	opts.SetOnConnectHandler(m.onConnected)
	opts.SetConnectionLostHandler(m.onConnectionLost)

	log.WithField("server", c.Server).Info("commandchannel/mqtt: connecting to mqtt broker")
	m.conn = paho.NewClient(opts)
	for {
		if token := m.conn.Connect(); token.Wait() && token.Error() != nil {
			log.Errorf("commandchannel/mqtt: connecting to mqtt broker failed, will retry in 2s: %s", token.Error())
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return &m, nil
}

// Close unsubscribes from the command topic and disconnects.
func (m *MQTT) Close() error {
	log.Info("commandchannel/mqtt: closing channel")

	if err := m.bridge.Close(); err != nil {
		return err
	}

	if token := m.conn.Unsubscribe(m.config.CommandTopic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "commandchannel/mqtt: unsubscribe from %s error", m.config.CommandTopic)
	}
	m.conn.Disconnect(250)

	return nil
}

func (m *MQTT) publish(b []byte) error {
	log.WithFields(log.Fields{
		"topic": m.config.ResponseTopic,
		"qos":   m.config.QOS,
	}).Debug("commandchannel/mqtt: publishing response")

	if token := m.conn.Publish(m.config.ResponseTopic, m.config.QOS, false, b); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "commandchannel/mqtt: publish response error")
	}
	return nil
}

func (m *MQTT) commandHandler(c paho.Client, msg paho.Message) {
	log.WithField("topic", msg.Topic()).Info("commandchannel/mqtt: command received")

	if err := m.deliver(msg.Payload()); err != nil {
		log.WithError(err).Error("commandchannel/mqtt: deliver command error")
	}
}

func (m *MQTT) onConnected(c paho.Client) {
	log.Info("commandchannel/mqtt: connected to mqtt server")

	for {
		log.WithFields(log.Fields{
			"topic": m.config.CommandTopic,
			"qos":   m.config.QOS,
		}).Info("commandchannel/mqtt: subscribing to command topic")
		if token := c.Subscribe(m.config.CommandTopic, m.config.QOS, m.commandHandler); token.Wait() && token.Error() != nil {
			log.WithFields(log.Fields{
				"topic": m.config.CommandTopic,
				"qos":   m.config.QOS,
			}).Errorf("commandchannel/mqtt: subscribe error: %s", token.Error())
			time.Sleep(time.Second)
			continue
		}
		break
	}
}

func (m *MQTT) onConnectionLost(c paho.Client, reason error) {
	log.Errorf("commandchannel/mqtt: mqtt connection error: %s", reason)
}
