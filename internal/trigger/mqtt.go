package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/logging"
	"whatsapp-alert/internal/metrics"
)

const mqttWait = 10 * time.Second

var mqttLog = logging.WithComponent("mqtt")

// NewMQTTClient builds (but does not connect) a paho client from cfg.
// onMessage receives every publish that no subscription claims, which
// includes messages the broker queued for the persistent session.
func NewMQTTClient(cfg config.MQTTConfig, onMessage paho.MessageHandler) paho.Client {
	return paho.NewClient(newMQTTOptions(cfg, onMessage))
}

func newMQTTOptions(cfg config.MQTTConfig, onMessage paho.MessageHandler) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "whatsapp-alert"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(mqttWait)
	opts.SetAutoReconnect(true)
	// 持久会话，重连后 broker 保留订阅
	opts.SetCleanSession(false)
	// 每条消息在独立 goroutine 中处理，告警发送和 marker 发布不会阻塞 paho 的收包循环；
	// 告警轮次由 Invoker 串行执行
	opts.SetOrderMatters(false)
	if onMessage != nil {
		opts.SetDefaultPublishHandler(onMessage)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		mqttLog.Warnf("connection lost: %v", err)
	})
	return opts
}

// ConnectMQTT connects client, waiting at most mqttWait.
func ConnectMQTT(client paho.Client) error {
	return waitToken(client.Connect(), "connect")
}

func waitToken(tok paho.Token, op string) error {
	if !tok.WaitTimeout(mqttWait) {
		return fmt.Errorf("mqtt %s: timed out after %s", op, mqttWait)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", op, err)
	}
	return nil
}

// MQTTSource runs one pass per message received on a topic. It is created
// before the client so that Handle can serve as the client's default
// publish handler; messages arriving before Start wait for it.
type MQTTSource struct {
	topic string
	qos   byte
	ready chan struct{}

	// set by Start, read only after ready is closed
	client  paho.Client
	invoker *Invoker
	ctx     context.Context
}

func NewMQTTSource(cfg config.MQTTConfig) *MQTTSource {
	return &MQTTSource{topic: cfg.Topic, qos: cfg.QoS, ready: make(chan struct{})}
}

// Start binds the source to client and invoker and subscribes. Passes
// triggered by messages use ctx.
func (s *MQTTSource) Start(ctx context.Context, client paho.Client, invoker *Invoker) error {
	if s.topic == "" {
		return errors.New("mqtt topic is empty")
	}
	if s.client != nil {
		return errors.New("mqtt source already started")
	}
	s.client, s.invoker, s.ctx = client, invoker, ctx
	close(s.ready)
	if err := waitToken(client.Subscribe(s.topic, s.qos, s.Handle), "subscribe"); err != nil {
		return err
	}
	mqttLog.Infof("source subscribed: topic=%s qos=%d", s.topic, s.qos)
	return nil
}

func (s *MQTTSource) Stop() {
	if s.client != nil && s.client.IsConnected() {
		_ = waitToken(s.client.Unsubscribe(s.topic), "unsubscribe")
	}
}

// Handle runs a pass for msg. Used both as the subscription callback and
// as the client's default publish handler.
func (s *MQTTSource) Handle(_ paho.Client, msg paho.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			mqttLog.Errorf("panic handling message on %s: %v", msg.Topic(), rec)
			metrics.PanicsRecovered.WithLabelValues("mqtt").Inc()
		}
	}()
	select {
	case <-s.ready:
	case <-time.After(mqttWait):
		mqttLog.Warnf("message on %s dropped: source not started", msg.Topic())
		return
	}
	if _, err := s.invoker.Payload(s.ctx, msg.Payload(), "mqtt"); err != nil {
		mqttLog.Warnf("message on %s rejected: %v", msg.Topic(), err)
	}
}

// MQTTEmitter publishes timestamp markers as retained messages under a
// topic prefix, e.g. <prefix>/last_message_sent.
type MQTTEmitter struct {
	client paho.Client
	prefix string
	qos    byte
}

func NewMQTTEmitter(client paho.Client, cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{client: client, prefix: strings.TrimRight(cfg.MarkerTopic, "/"), qos: cfg.QoS}
}

func (e *MQTTEmitter) Emit(ctx context.Context, name, value string) error {
	topic := e.prefix + "/" + name
	tok := e.client.Publish(topic, e.qos, true, value)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	case <-time.After(mqttWait):
		return fmt.Errorf("publish %s: timed out", topic)
	}
}
