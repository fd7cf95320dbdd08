package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/sirupsen/logrus"
)

// Topic filters consumed from the broker. The final segment of a
// concrete topic is the device id.
const (
	TopicFilterSensorData   = "device/sensordata/+"
	TopicFilterRegistration = "device/registration/+"

	topicPrefixSensorData   = "device/sensordata/"
	topicPrefixRegistration = "device/registration/"
)

// MessageKind classifies an inbound MQTT message by its topic.
type MessageKind string

const (
	KindSensorData   MessageKind = "sensordata"
	KindRegistration MessageKind = "registration"
)

// ParseTopic extracts the message kind and device id from a concrete
// topic. Unknown topics return ok=false.
func ParseTopic(topic string) (kind MessageKind, deviceID string, ok bool) {
	switch {
	case strings.HasPrefix(topic, topicPrefixSensorData):
		deviceID = topic[len(topicPrefixSensorData):]
		kind = KindSensorData
	case strings.HasPrefix(topic, topicPrefixRegistration):
		deviceID = topic[len(topicPrefixRegistration):]
		kind = KindRegistration
	default:
		return "", "", false
	}
	if deviceID == "" || strings.Contains(deviceID, "/") {
		return "", "", false
	}
	return kind, deviceID, true
}

// MessageHandler receives every inbound message on a subscribed topic.
type MessageHandler func(kind MessageKind, deviceID string, payload []byte)

// Config holds MQTT client configuration.
type Config struct {
	BrokerURL string `json:"brokerUrl"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	ClientID  string `json:"clientId"`
}

// Client subscribes to the device topics and fans inbound messages into
// the registered handler. autopaho owns reconnection; subscriptions are
// re-established on every (re-)connect.
type Client struct {
	cfg     Config
	handler MessageHandler
	logger  *logrus.Entry
	cm      *autopaho.ConnectionManager
}

// NewClient creates a client but does not connect; call Start.
func NewClient(cfg Config, handler MessageHandler, logger *logrus.Entry) *Client {
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start connects to the broker and returns once the connection manager
// is running. It does not block on the initial connection; autopaho
// retries in the background.
func (c *Client) Start(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("mqtt client requires a message handler")
	}

	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.WithField("broker", c.cfg.BrokerURL).Info("MQTT connected to broker")
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			c.subscribe(subCtx, cm)
		},
		OnConnectError: func(err error) {
			c.logger.WithError(err).Warn("MQTT connection error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		kind, deviceID, ok := ParseTopic(pr.Packet.Topic)
		if !ok {
			c.logger.WithField("topic", pr.Packet.Topic).Debug("Ignoring message on unknown topic")
			return true, nil
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.WithFields(logrus.Fields{
						"topic": pr.Packet.Topic,
						"panic": r,
					}).Error("MQTT message handler panicked")
				}
			}()
			c.handler(kind, deviceID, pr.Packet.Payload)
		}()
		return true, nil
	})

	return nil
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires.
func (c *Client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

// Stop disconnects from the broker.
func (c *Client) Stop(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	return c.cm.Disconnect(ctx)
}

// subscribe sends SUBSCRIBE packets for both device topic filters.
// Called on every (re-)connect because autopaho does not automatically
// resubscribe after reconnection.
func (c *Client) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: TopicFilterSensorData, QoS: 0},
			{Topic: TopicFilterRegistration, QoS: 1},
		},
	}); err != nil {
		c.logger.WithError(err).Error("MQTT subscribe failed")
		return
	}
	c.logger.WithFields(logrus.Fields{
		"topics": []string{TopicFilterSensorData, TopicFilterRegistration},
	}).Info("MQTT subscribed to topics")
}
