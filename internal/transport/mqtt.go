package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cjeanneret/camrelay/internal/debug"
)

// MQTTConfig names the broker and the frame topic.
type MQTTConfig struct {
	Broker   string // host:port or a full tcp:// / ws:// URL
	Topic    string
	ClientID string // random when empty
	// Subscribe makes this side a receiver of the topic.
	Subscribe bool
}

// MQTT relays payloads through a broker. Frames are published at QoS 0
// without retention; the broker connection reconnects on its own.
type MQTT struct {
	*link
	cfg MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
	closed bool
}

// NewMQTT creates an inactive MQTT endpoint.
func NewMQTT(cfg MQTTConfig, maxPayload int) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "camrelay-" + uuid.NewString()
	}
	if cfg.Topic == "" {
		cfg.Topic = "camrelay/frames"
	}
	m := &MQTT{cfg: cfg}
	m.link = newLink("mqtt", maxPayload, m.write)
	return m
}

func brokerURL(b string) string {
	if strings.Contains(b, "://") {
		return b
	}
	return "tcp://" + b
}

func (m *MQTT) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	if m.client != nil {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)
	opts.OnConnect = func(c mqtt.Client) {
		debug.Info("Transport mqtt: connected to %s as %s", m.cfg.Broker, m.cfg.ClientID)
		if m.cfg.Subscribe {
			tok := c.Subscribe(m.cfg.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				m.deliver(msg.Payload())
			})
			go func() {
				if tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
					debug.Warn("Transport mqtt: subscribe %s: %v", m.cfg.Topic, tok.Error())
				}
			}()
		}
		m.setReady(true)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		debug.Warn("Transport mqtt: connection lost, reconnecting: %v", err)
		m.setReady(false)
	}

	m.client = mqtt.NewClient(opts)
	// With connect retry enabled the token only completes once connected,
	// so it is not waited on here.
	m.client.Connect()
	debug.Verbose("Transport mqtt: connecting to %s", m.cfg.Broker)
	return nil
}

func (m *MQTT) write(p []byte) error {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil || !c.IsConnectionOpen() {
		return ErrUnavailable
	}
	tok := c.Publish(m.cfg.Topic, 0, false, p)
	if !tok.WaitTimeout(writeTimeout) {
		return fmt.Errorf("publish to %s: timeout", m.cfg.Topic)
	}
	return tok.Error()
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	c := m.client
	m.mu.Unlock()

	m.out.close()
	if c != nil {
		c.Disconnect(250)
	}
	m.setReady(false)
	return nil
}
