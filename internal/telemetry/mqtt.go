// Package telemetry mirrors game events to an MQTT broker and accepts
// chat messages published back to it.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/config"
	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	topicEvents = "events"
	topicChat   = "chat"
	topicStatus = "status"
)

// ChatHandler receives chat messages published to the inbound topic.
type ChatHandler func(ctx context.Context, author, content string)

// ChatMessage is the payload accepted on the inbound chat topic.
type ChatMessage struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// MQTTHandler manages the MQTT connection. It is an events.Observer.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	client   mqtt.Client
	hostname string
	logger   zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	onChat ChatHandler
}

// NewMQTTHandler creates a new MQTT handler. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, oops.In("mqtt").Code(errutil.CodeConfig).Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		hostname: sysInfo.Hostname,
		logger:   util.ComponentLogger("mqtt").With().Str("broker", cfg.BrokerURL).Logger(),
		ctx:      context.Background(),
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("fadmin-%s", sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetWill(h.topic(topicStatus), `{"status":"offline"}`, 1, true)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(h.onConnect)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, oops.In("mqtt").Code(errutil.CodeConfig).Wrapf(err, "failed to load MQTT TLS certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, oops.In("mqtt").Code(errutil.CodeConfig).Wrapf(err, "failed to read MQTT CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, oops.In("mqtt").Code(errutil.CodeConfig).With("path", cfg.CAFile).Errorf("no certificates in MQTT CA file")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the broker and serves until ctx is cancelled.
// Messages on the inbound chat topic are passed to onChat, which may be
// nil.
func (h *MQTTHandler) Start(ctx context.Context, onChat ChatHandler) error {
	h.mu.Lock()
	h.ctx = ctx
	h.onChat = onChat
	h.mu.Unlock()

	h.logger.Info().Int("port", h.cfg.Port).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return oops.In("mqtt").Code(errutil.CodeDelivery).Wrapf(token.Error(), "MQTT connect failed")
	}

	<-ctx.Done()

	h.publish(h.topic(topicStatus), map[string]string{"status": "offline"}, true)
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

// onConnect runs after every (re)connect; subscriptions do not survive a
// clean session.
func (h *MQTTHandler) onConnect(client mqtt.Client) {
	h.logger.Info().Msg("MQTT connected")
	h.publish(h.topic(topicStatus), map[string]string{"status": "online"}, true)

	token := client.Subscribe(h.topic(topicChat), 1, h.handleChat)
	go func() {
		if token.Wait() && token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Msg("failed to subscribe to chat topic")
		}
	}()
}

func (h *MQTTHandler) handleChat(_ mqtt.Client, m mqtt.Message) {
	msg, err := ParseChatMessage(m.Payload())
	if err != nil {
		errutil.LogWarn(h.logger, "ignoring chat message", err)
		return
	}

	h.mu.Lock()
	ctx, onChat := h.ctx, h.onChat
	h.mu.Unlock()

	if onChat != nil {
		onChat(ctx, msg.Author, msg.Content)
	}
}

// ParseChatMessage validates an inbound chat payload.
func ParseChatMessage(payload []byte) (ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, oops.In("mqtt").Code(errutil.CodeCommand).Wrapf(err, "chat payload is not JSON")
	}
	if strings.TrimSpace(msg.Author) == "" || strings.TrimSpace(msg.Content) == "" {
		return msg, oops.In("mqtt").Code(errutil.CodeCommand).Errorf("chat payload needs author and content")
	}
	return msg, nil
}

// OnEvent implements events.Observer by publishing the event to
// <prefix>/events/<kind>.
func (h *MQTTHandler) OnEvent(_ context.Context, ev events.Event) {
	h.publish(h.EventTopic(ev), h.buildMessage(ev), false)
}

// EventTopic returns the topic an event is published to.
func (h *MQTTHandler) EventTopic(ev events.Event) string {
	return h.topic(topicEvents + "/" + string(ev.Kind()))
}

func (h *MQTTHandler) topic(suffix string) string {
	prefix := strings.Trim(h.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}, retained bool) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, retained, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage wraps an event with an id and origin metadata.
func (h *MQTTHandler) buildMessage(ev events.Event) map[string]interface{} {
	return map[string]interface{}{
		"id":        ulid.Make().String(),
		"kind":      ev.Kind(),
		"event":     ev,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"hostname":  h.hostname,
	}
}
