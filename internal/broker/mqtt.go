package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// ReconnectDelay is how long the session loop waits before redialing
// the broker after a disconnect, matching the reference controller's
// fixed 3-second backoff.
const ReconnectDelay = 3 * time.Second

// MQTTConfig configures the MQTT-backed Broker.
type MQTTConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	ClientID string
	Topics   []string // subscribed at QoS 2 on every (re)connect
}

// MQTTBroker is a Broker backed by an MQTT v5 session, reconnecting
// on a fixed delay for as long as the context passed to Run is alive.
type MQTTBroker struct {
	cfg    MQTTConfig
	logger *zap.Logger

	mu        sync.Mutex
	client    *paho.Client
	onConnect func(ctx context.Context)
	connected atomic.Bool
	messages  chan Message
}

// SetOnConnect registers a hook that runs after each successful
// connect and subscribe. The controller uses it to publish grid/ping.
// Must be called before Run.
func (b *MQTTBroker) SetOnConnect(fn func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = fn
}

// NewMQTTBroker creates a broker that has not yet connected. Call Run
// to start the session loop.
func NewMQTTBroker(cfg MQTTConfig, logger *zap.Logger) *MQTTBroker {
	return &MQTTBroker{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan Message, 256),
	}
}

// Run drives the broker session loop: dial, subscribe, consume
// messages, and on any disconnect wait ReconnectDelay and redial.
// It returns when ctx is cancelled.
func (b *MQTTBroker) Run(ctx context.Context) {
	defer close(b.messages)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.sessionOnce(ctx); err != nil {
			b.logger.Error("broker session ended", zap.Error(err))
		}
		b.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("lost connection to broker, retrying", zap.Duration("delay", ReconnectDelay))
		select {
		case <-time.After(ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (b *MQTTBroker) sessionOnce(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)

	var conn net.Conn
	var err error
	if b.cfg.TLS {
		conn, err = tls.Dial("tcp", addr, &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	// errCh breaks sessionOnce out of its wait when the underlying
	// client dies, so Run can redial after ReconnectDelay.
	errCh := make(chan error, 2)
	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				select {
				case b.messages <- Message{Topic: pr.Packet.Topic, Payload: pr.Packet.Payload}:
				case <-ctx.Done():
				}
				return true, nil
			},
		},
		OnClientError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			select {
			case errCh <- fmt.Errorf("server disconnect: reason %d", d.ReasonCode):
			default:
			}
		},
	})

	connectPacket := &paho.Connect{
		KeepAlive:  30,
		ClientID:   b.cfg.ClientID,
		CleanStart: true,
	}
	if b.cfg.Username != "" {
		connectPacket.Username = b.cfg.Username
		connectPacket.UsernameFlag = true
		connectPacket.Password = []byte(b.cfg.Password)
		connectPacket.PasswordFlag = true
	}

	connAck, err := client.Connect(ctx, connectPacket)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if connAck.ReasonCode != 0 {
		return fmt.Errorf("mqtt connect refused: reason %d", connAck.ReasonCode)
	}

	var subs []paho.SubscribeOptions
	for _, topic := range b.cfg.Topics {
		subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: 2})
	}
	if _, err := client.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	b.connected.Store(true)
	b.logger.Info("connected to broker", zap.String("addr", addr))

	b.mu.Lock()
	onConnect := b.onConnect
	b.mu.Unlock()
	if onConnect != nil {
		onConnect(ctx)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("mqtt session lost: %w", err)
	}
}

// Publish sends payload to topic at QoS 2.
func (b *MQTTBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return fmt.Errorf("broker: not connected")
	}
	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     2,
		Payload: payload,
	})
	return err
}

// Messages returns the channel of inbound messages.
func (b *MQTTBroker) Messages() <-chan Message {
	return b.messages
}

// Connected reports whether the broker session is currently up.
func (b *MQTTBroker) Connected() bool {
	return b.connected.Load()
}

// Close disconnects the current session, if any.
func (b *MQTTBroker) Close() error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
