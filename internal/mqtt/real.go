package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pv-router/internal/control"
)

// bufferCapacity holds one hour of telemetry at the default 5 s period.
const bufferCapacity = 720

// RealPublisher publishes to an actual MQTT broker. Telemetry produced while
// the broker is unreachable is buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buffer    *ringBuffer
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker. The broker does
// not need to be reachable: the client keeps retrying in the background.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{buffer: newRingBuffer(bufferCapacity)}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering telemetry", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.connects++
	if p.connects > 1 {
		log.Printf("mqtt: reconnected")
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(TopicSystem, 1, false, payload)
	}

	n, err := p.buffer.drain(p.send)
	if n > 0 {
		log.Printf("mqtt: replayed %d buffered messages", n)
	}
	if err != nil {
		log.Printf("mqtt: replay stopped, %d still buffered: %v", p.buffer.len(), err)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

func wait(token paho.Token, what string) error {
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("%s timeout", what)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// Publish sends a telemetry record, or buffers it while disconnected.
func (p *RealPublisher) Publish(t control.Telemetry) error {
	payload, err := FormatPayload(t)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	msg := bufferedMsg{topic: Topic, payload: payload}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		p.buffer.push(msg)
		return nil
	}
	// nothing overtakes the backlog
	if _, err := p.buffer.drain(p.send); err != nil {
		p.buffer.push(msg)
		return err
	}
	if err := p.send(msg); err != nil {
		p.buffer.push(msg)
		return err
	}
	return nil
}

// send publishes one message; telemetry is QoS 0 (at-most-once), not retained.
func (p *RealPublisher) send(m bufferedMsg) error {
	return wait(p.client.Publish(m.topic, m.qos, m.retained, m.payload), "publish")
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return wait(p.client.Publish(TopicSystem, 1, event.Retained, payload), "publish system")
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered is the number of telemetry records waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
)
