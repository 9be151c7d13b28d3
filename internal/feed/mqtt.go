package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
	"fieldsync/internal/models"
)

const (
	mqttQoS            = 1
	mqttStreamBuffer   = 64
	mqttDisconnectWait = 250 // ms
	mqttConnectRetries = 5
)

// MQTTClient is the broker-backed feed. Each topic maps to <prefix>/<topic>; the broker's retained
// message gives a late subscriber the current snapshot immediately.
type MQTTClient struct {
	client mqtt.Client
	prefix string
	log    *logger.Logger

	mu      sync.Mutex
	streams map[models.Topic]chan RawSnapshot
}

// NewMQTTClient connects to the broker, retrying with exponential backoff.
func NewMQTTClient(ctx context.Context, cfg config.FeedConfig, log *logger.Logger) (*MQTTClient, error) {
	c := &MQTTClient{
		prefix:  cfg.Prefix,
		log:     log.Named("mqtt"),
		streams: make(map[models.Topic]chan RawSnapshot),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warnw("broker connection lost", "err", err)
		c.closeAll()
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	err := backoff.Retry(func() error {
		client := mqtt.NewClient(opts)
		token := client.Connect()
		if token.Wait() && token.Error() != nil {
			c.log.Warnw("connect to broker failed", "broker", cfg.Broker, "err", token.Error())
			return token.Error()
		}
		c.client = client
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, mqttConnectRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}

	c.log.Infow("connected to broker", "broker", cfg.Broker)
	return c, nil
}

func (c *MQTTClient) brokerTopic(path string) string {
	path = strings.Trim(path, "/")
	if c.prefix == "" {
		return path
	}
	return c.prefix + "/" + path
}

// Open subscribes to the topic. Messages are handed off without blocking the paho router;
// when the consumer lags, the oldest snapshots are simply skipped in favour of newer ones.
func (c *MQTTClient) Open(ctx context.Context, topic models.Topic) (<-chan RawSnapshot, error) {
	if !c.client.IsConnectionOpen() {
		return nil, fmt.Errorf("%w: broker not connected", models.ErrSubscribe)
	}

	c.mu.Lock()
	if _, ok := c.streams[topic]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s already open", models.ErrSubscribe, topic)
	}
	ch := make(chan RawSnapshot, mqttStreamBuffer)
	c.streams[topic] = ch
	c.mu.Unlock()

	token := c.client.Subscribe(c.brokerTopic(string(topic)), mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.deliver(topic, msg.Payload())
	})
	if err := waitToken(ctx, token); err != nil {
		c.drop(topic)
		return nil, fmt.Errorf("%w: %s: %v", models.ErrSubscribe, topic, err)
	}
	c.log.Debugw("subscribed", "topic", topic)
	return ch, nil
}

func (c *MQTTClient) deliver(topic models.Topic, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.streams[topic]
	if !ok {
		return
	}
	snap := RawSnapshot{Topic: topic, Payload: append([]byte(nil), payload...), ReceivedAt: time.Now()}
	select {
	case ch <- snap:
	default:
		c.log.Warnw("stream buffer full, dropping snapshot", "topic", topic)
	}
}

// Close unsubscribes and ends the topic's stream.
func (c *MQTTClient) Close(topic models.Topic) error {
	if !c.drop(topic) {
		return nil
	}
	token := c.client.Unsubscribe(c.brokerTopic(string(topic)))
	token.WaitTimeout(time.Second)
	return token.Error()
}

func (c *MQTTClient) drop(topic models.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.streams[topic]
	if !ok {
		return false
	}
	close(ch)
	delete(c.streams, topic)
	return true
}

// closeAll ends every stream; subscribers observe the closed channel and resubscribe.
func (c *MQTTClient) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, ch := range c.streams {
		close(ch)
		delete(c.streams, t)
	}
}

// Write publishes value as a retained JSON message on the path.
func (c *MQTTClient) Write(ctx context.Context, path string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	token := c.client.Publish(c.brokerTopic(path), mqttQoS, true, body)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// Disconnect closes all streams and the broker connection.
func (c *MQTTClient) Disconnect() {
	c.closeAll()
	if c.client.IsConnected() {
		c.client.Disconnect(mqttDisconnectWait)
		c.log.Infow("broker connection closed")
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Client = (*MQTTClient)(nil)
