package notify

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"

	"fleet-monitor/dms/internal/config"
)

// Publisher is the Redis pub/sub side of store.RedisStore.
type Publisher interface {
	PublishAlert(ctx context.Context, companyID string, payload []byte) error
}

// RedisSink publishes to fleet:{company}:alerts.
type RedisSink struct {
	pub Publisher
}

func NewRedisSink(pub Publisher) *RedisSink {
	return &RedisSink{pub: pub}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, msg Message) error {
	body, err := msg.JSON()
	if err != nil {
		return err
	}
	return s.pub.PublishAlert(ctx, msg.CompanyID.String(), body)
}

// MQTTSink publishes to {prefix}/{vehicle} so on-board displays can subscribe
// to their own bus.
type MQTTSink struct {
	client mqtt.Client
	prefix string
}

func NewMQTTClient(cfg *config.Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

func NewMQTTSink(client mqtt.Client, prefix string) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Topic(msg Message) string {
	return fmt.Sprintf("%s/%s", s.prefix, msg.Alert.VehicleID)
}

func (s *MQTTSink) Send(ctx context.Context, msg Message) error {
	body, err := msg.JSON()
	if err != nil {
		return err
	}
	token := s.client.Publish(s.Topic(msg), 1, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", s.Topic(msg), err)
	}
	return nil
}

// WebhookSink POSTs the alert JSON to a fixed URL.
type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	body, err := msg.JSON()
	if err != nil {
		return err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}
