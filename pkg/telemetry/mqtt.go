package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gwillem/rzpanel/pkg/stage"
)

const publishTimeout = 2 * time.Second

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Publisher sends the snapshot to an MQTT state topic and announces every
// axis channel to Home Assistant through discovery topics.
type Publisher struct {
	cfg    stage.MQTTConfig
	snap   *Snapshot
	logger *zap.Logger
	client mqttClient
	notify chan struct{}
}

// NewPublisher creates a publisher for the broker in cfg. Call Run to
// connect.
func NewPublisher(cfg stage.MQTTConfig, snap *Snapshot, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{cfg: cfg, snap: snap, logger: logger, notify: make(chan struct{}, 1)}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rzpanel-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Host))
			p.publishDiscovery()
			p.publishState()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	p.client = mqtt.NewClient(opts)
	return p
}

func (p *Publisher) OnStateChange(axis stage.Axis, s stage.Sample) {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run connects to the broker and publishes on every change until ctx is
// done.
func (p *Publisher) Run(ctx context.Context) error {
	p.client.Connect()
	defer p.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.notify:
			p.publishState()
		}
	}
}

func (p *Publisher) publishState() {
	if !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(p.snap.Rounded(3))
	if err != nil {
		return
	}
	p.publish(p.cfg.Topic, byte(p.cfg.QoS), p.cfg.Retain, payload)
}

func (p *Publisher) publishDiscovery() {
	for _, d := range Discovery(p.cfg, p.snap.Axes()) {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			continue
		}
		p.publish(d.Topic, byte(p.cfg.QoS), true, payload)
	}
}

func (p *Publisher) publish(topic string, qos byte, retain bool, payload []byte) {
	tok := p.client.Publish(topic, qos, retain, payload)
	if !tok.WaitTimeout(publishTimeout) {
		p.logger.Warn("mqtt publish timed out", zap.String("topic", topic))
		return
	}
	if err := tok.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// DiscoveryConfig is one Home Assistant discovery message.
type DiscoveryConfig struct {
	Topic   string
	Payload DiscoveryPayload
}

// DiscoveryPayload is the body of a sensor discovery message.
type DiscoveryPayload struct {
	Name              string          `json:"name"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	UniqueID          string          `json:"unique_id"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	Device            DiscoveryDevice `json:"device"`
}

// DiscoveryDevice groups the sensors of the panel in Home Assistant.
type DiscoveryDevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	Model       string   `json:"model"`
}

// Discovery returns the discovery messages of every axis channel.
func Discovery(cfg stage.MQTTConfig, axes []stage.Axis) []DiscoveryConfig {
	prefix := strings.TrimRight(cfg.DiscoveryPrefix, "/")
	dev := DiscoveryDevice{Identifiers: []string{"rzpanel"}, Name: "R/Z Stage", Model: "rzpanel"}
	var out []DiscoveryConfig
	for _, a := range axes {
		for _, ch := range Channels {
			uid := "rzpanel_" + Key(a, ch)
			unit := a.Unit
			switch ch {
			case "velocity":
				unit = a.VelocityUnit
			case "acceleration":
				unit = a.AccelUnit
			}
			out = append(out, DiscoveryConfig{
				Topic: fmt.Sprintf("%s/sensor/%s/config", prefix, uid),
				Payload: DiscoveryPayload{
					Name:              fmt.Sprintf("%s %s", a.Label, ch),
					StateTopic:        cfg.Topic,
					ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", Key(a, ch)),
					UniqueID:          uid,
					UnitOfMeasurement: unit,
					Device:            dev,
				},
			})
		}
	}
	return out
}
