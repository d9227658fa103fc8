// Package control applies configuration patches received over MQTT and
// publishes the render status back.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/engine"
)

// Topic suffixes under Options.Prefix.
const (
	TopicConfigSet = "config/set"
	TopicConfigAck = "config/ack"
	TopicStatus    = "status"
)

// Options configures the MQTT control plane.
type Options struct {
	// Broker is host:port or a full URL such as tcp://host:1883.
	Broker   string
	Prefix   string
	ClientID string
	QoS      byte
	// StatusInterval is the telemetry period; zero disables it.
	StatusInterval time.Duration
	Store          *config.Store
	Status         func() engine.Status
	Log            *log.Logger
}

// Response is published on the ack topic for every message received.
type Response struct {
	Status    string         `json:"status"`
	Config    *config.Config `json:"config,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Telemetry is the payload of the status topic.
type Telemetry struct {
	Client    string        `json:"client"`
	Status    engine.Status `json:"status"`
	Config    config.Config `json:"config"`
	Timestamp string        `json:"timestamp"`
}

// MQTT is the control plane client.
type MQTT struct {
	opts   Options
	client mqtt.Client
	now    func() time.Time

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTT fills defaults; call Connect then Start.
func NewMQTT(opts Options) *MQTT {
	if opts.Prefix == "" {
		opts.Prefix = "glyphcast"
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, "/")
	if opts.ClientID == "" {
		opts.ClientID = "glyphcast-" + uuid.NewString()[:8]
	}
	if opts.Log == nil {
		opts.Log = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &MQTT{opts: opts, now: time.Now}
}

// Topic returns the full topic for suffix.
func (m *MQTT) Topic(suffix string) string {
	return m.opts.Prefix + "/" + suffix
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection with auto-reconnect.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(m.opts.Broker))
	opts.SetClientID(m.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		m.opts.Log.Printf("[mqtt] connected to %s as %s", m.opts.Broker, m.opts.ClientID)
		// Subscriptions do not survive a clean-session reconnect.
		m.subscribe()
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		m.opts.Log.Printf("[mqtt] connection lost, reconnecting: %v", err)
	}

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	m.setConnected(true)
	return nil
}

func (m *MQTT) subscribe() {
	topic := m.Topic(TopicConfigSet)
	token := m.client.Subscribe(topic, m.opts.QoS, m.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		m.opts.Log.Printf("[mqtt] subscribe %s: timeout", topic)
		return
	}
	if err := token.Error(); err != nil {
		m.opts.Log.Printf("[mqtt] subscribe %s: %v", topic, err)
	}
}

// Start publishes telemetry until ctx is cancelled, then disconnects.
func (m *MQTT) Start(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("mqtt: not connected")
	}
	if m.opts.StatusInterval <= 0 || m.opts.Status == nil {
		<-ctx.Done()
		m.Disconnect()
		return nil
	}
	ticker := time.NewTicker(m.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Disconnect()
			return nil
		case <-ticker.C:
			if err := m.PublishStatus(); err != nil {
				m.opts.Log.Printf("[mqtt] status: %v", err)
			}
		}
	}
}

func (m *MQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	resp := m.HandlePatch(msg.Payload())
	if err := m.publishJSON(m.Topic(TopicConfigAck), resp); err != nil {
		m.opts.Log.Printf("[mqtt] ack: %v", err)
	}
}

// HandlePatch applies a JSON config.Patch to the store.
func (m *MQTT) HandlePatch(payload []byte) Response {
	resp := Response{Timestamp: m.now().UTC().Format(time.RFC3339)}
	var patch config.Patch
	if err := json.Unmarshal(payload, &patch); err != nil {
		resp.Status = "error"
		resp.Error = fmt.Sprintf("invalid patch: %v", err)
		return resp
	}
	cfg, err := m.opts.Store.ApplyPatch(patch)
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}
	m.opts.Log.Printf("[mqtt] config updated")
	resp.Status = "ok"
	resp.Config = &cfg
	return resp
}

// Telemetry builds the current status payload.
func (m *MQTT) Telemetry() Telemetry {
	t := Telemetry{
		Client:    m.opts.ClientID,
		Config:    m.opts.Store.Load(),
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	if m.opts.Status != nil {
		t.Status = m.opts.Status()
	}
	return t
}

// PublishStatus sends one telemetry message.
func (m *MQTT) PublishStatus() error {
	return m.publishJSON(m.Topic(TopicStatus), m.Telemetry())
}

func (m *MQTT) publishJSON(topic string, v any) error {
	if !m.isConnected() {
		m.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		m.countError()
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := m.client.Publish(topic, m.opts.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		m.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish failed: %w", err)
	}
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
	return nil
}

// Disconnect closes the broker connection.
func (m *MQTT) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Unsubscribe(m.Topic(TopicConfigSet)).WaitTimeout(time.Second)
		m.client.Disconnect(250)
		m.opts.Log.Printf("[mqtt] disconnected")
	}
	m.setConnected(false)
}

// Stats returns publish counters.
func (m *MQTT) Stats() (published, errors uint64, connected bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published, m.errors, m.connected
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}
