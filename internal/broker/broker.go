// Package broker is the MQTT boundary the grid controller publishes
// and subscribes through. Only its contract (Broker) is used by
// internal/grid; the concrete implementation wraps
// github.com/eclipse/paho.golang the way the reference controller
// wraps aiomqtt: connect, subscribe to job/# and node/#, and reconnect
// on a fixed delay when the session drops.
package broker

import "context"

// Message is one inbound publish delivered to a subscriber.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is the publish/subscribe boundary the controller core
// depends on. A real implementation backs it with an MQTT v5 client;
// tests back it with an in-memory fake.
type Broker interface {
	// Publish sends payload to topic at QoS 2.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Messages returns a channel of inbound messages for every topic
	// this Broker subscribed to at construction. MQTTBroker closes the
	// channel when its session loop (Run) returns.
	Messages() <-chan Message

	// Connected reports whether the broker session is currently up.
	Connected() bool

	// Close disconnects the current broker session, if any.
	Close() error
}
