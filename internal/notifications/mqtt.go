package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

type mqttPayload struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Name      string    `json:"name,omitempty"`
	Access    string    `json:"access_level,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// mqttChannel publishes alerts as JSON. The broker connection is opened on
// first use and kept until Close.
type mqttChannel struct {
	broker   string
	topic    string
	clientID string
	timeout  time.Duration

	mu     sync.Mutex
	client mqtt.Client
}

func newMQTTChannel(broker, topic, clientID string, timeout time.Duration) *mqttChannel {
	broker = strings.TrimSpace(broker)
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	return &mqttChannel{broker: broker, topic: topic, clientID: clientID, timeout: timeout}
}

func (m *mqttChannel) Name() string { return ChannelMQTT }

func (m *mqttChannel) Send(ctx context.Context, msg Message) (Outcome, error) {
	client, err := m.connect()
	if err != nil {
		if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) || errors.Is(err, packets.ErrorRefusedNotAuthorised) {
			return OutcomeInvalidCredentials, err
		}
		return OutcomeFailed, err
	}

	payload, err := json.Marshal(mqttPayload{
		Title:     msg.Title,
		Message:   msg.Body,
		Name:      msg.Name,
		Access:    string(msg.Access),
		Tags:      msg.Tags,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return OutcomeUnknownError, fmt.Errorf("marshal mqtt payload: %w", err)
	}

	token := client.Publish(m.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return OutcomeFailed, fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return OutcomeFailed, fmt.Errorf("mqtt publish: %w", err)
	}
	return OutcomeSuccess, nil
}

func (m *mqttChannel) connect() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnectionOpen() {
		return m.client, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.broker)
	opts.SetClientID(m.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(m.timeout)
	opts.SetMaxReconnectInterval(30 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(m.timeout) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", m.broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection to %s failed: %w", m.broker, err)
	}
	m.client = client
	return client, nil
}

// Close disconnects from the broker.
func (m *mqttChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client = nil
	return nil
}
