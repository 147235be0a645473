// Package mqtt provides an Adapter that maps device-state MQTT topics onto
// occupancy Trigger/Clear calls.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"hometopology/internal/logging"
	"hometopology/internal/source"
)

// Config holds MQTT adapter configuration.
type Config struct {
	// BrokerURL, e.g. "mqtt://broker.local:1883".
	BrokerURL string

	// ClientID identifies this adapter's MQTT session.
	ClientID string

	// TopicFilter is the subscription filter. Defaults to "home/+/+/state".
	TopicFilter string

	// Timeout is the contribution timeout applied to every Trigger this
	// adapter issues. Nil falls back to the Location's configured default.
	Timeout *time.Duration

	// Registry tracks seen topic identities. Optional.
	Registry *source.Registry

	Logger *slog.Logger
}

// Adapter subscribes to "home/<location>/<entity>/state" topics and
// translates "on"/"off" (or nonzero/zero numeric) payloads into
// Trigger/Clear calls against a source.Sink.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an MQTT Adapter.
func New(cfg Config) *Adapter {
	if cfg.TopicFilter == "" {
		cfg.TopicFilter = "home/+/+/state"
	}
	return &Adapter{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "source", "type", "mqtt"),
	}
}

var _ source.Adapter = (*Adapter)(nil)

// Run connects to the broker and blocks, translating messages until ctx is
// cancelled or the connection is irrecoverably lost.
func (a *Adapter) Run(ctx context.Context, sink source.Sink) error {
	u, err := url.Parse(a.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqtt broker url: %w", err)
	}

	connUp := make(chan struct{}, 1)

	cliCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{u},
		KeepAlive:  20,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			_, subErr := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: a.cfg.TopicFilter, QoS: 1},
				},
			})
			if subErr != nil {
				a.logger.Error("mqtt subscribe failed", "error", subErr)
				return
			}
			a.logger.Info("mqtt adapter subscribed", "filter", a.cfg.TopicFilter)
			select {
			case connUp <- struct{}{}:
			default:
			}
		},
		OnConnectError: func(err error) {
			a.logger.Warn("mqtt connect error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: a.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					a.handleMessage(sink, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				a.logger.Error("mqtt client error", "error", err)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("mqtt adapter stopping")
	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = cm.Disconnect(disconnectCtx)
	return nil
}

// handleMessage parses a "home/<location>/<entity>/state" topic and its
// payload, then issues Trigger/Clear against sink.
func (a *Adapter) handleMessage(sink source.Sink, topic string, payload []byte) {
	locationID, entityID, ok := parseTopic(topic)
	if !ok {
		a.logger.Warn("unrecognized mqtt topic", "topic", topic)
		return
	}

	occupied, ok := parseState(payload)
	if !ok {
		a.logger.Warn("unrecognized mqtt payload", "topic", topic, "payload", string(payload))
		return
	}

	sourceID := entityID
	if a.cfg.Registry != nil {
		sourceID = a.cfg.Registry.Resolve(map[string]string{
			"protocol": "mqtt",
			"topic":    topic,
		})
	}

	now := time.Now()
	var err error
	if occupied {
		err = sink.Trigger(locationID, sourceID, a.cfg.Timeout, now)
	} else {
		err = sink.Clear(locationID, sourceID, nil, now)
	}
	if err != nil {
		a.logger.Warn("mqtt state translation failed", "topic", topic, "location_id", locationID, "error", err)
	}
}

// parseTopic splits "home/<location>/<entity>/state" into its location and
// entity segments.
func parseTopic(topic string) (locationID, entityID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "home" || parts[3] != "state" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// parseState interprets a payload as "on"/"off" or a nonzero/zero number.
func parseState(payload []byte) (occupied bool, ok bool) {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	switch s {
	case "on", "true":
		return true, true
	case "off", "false":
		return false, true
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n != 0, true
	}
	return false, false
}
