// Package kafka provides a federated-events Adapter consuming occupancy
// state changes from a Kafka topic via franz-go.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"hometopology/internal/logging"
	"hometopology/internal/source"
)

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string
}

// Config holds Kafka adapter configuration.
type Config struct {
	Brokers []string
	Topic   string
	Group   string
	TLS     bool
	SASL    *SASLConfig

	// Registry resolves a stable source id for records that omit
	// source_id, keyed on the record's Kafka key. Optional.
	Registry *source.Registry

	Logger *slog.Logger
}

// record is the wire shape of a topology-events topic message: one physical
// site's occupancy change, federated into this host's own tree.
type record struct {
	LocationID     string `json:"location_id"`
	SourceID       string `json:"source_id"`
	State          bool   `json:"state"`
	TimeoutSeconds *int   `json:"timeout_seconds"`
}

// Adapter consumes a topology-events Kafka topic for multi-site federation.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Kafka Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "source", "type", "kafka"),
	}
}

var _ source.Adapter = (*Adapter)(nil)

// Run connects to Kafka and polls records until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, sink source.Sink) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(a.cfg.Brokers...),
		kgo.ConsumeTopics(a.cfg.Topic),
		kgo.ConsumerGroup(a.cfg.Group),
	}

	if a.cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}

	if a.cfg.SASL != nil {
		mech, err := buildSASLMechanism(a.cfg.SASL)
		if err != nil {
			return err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	defer client.Close()

	a.logger.Info("kafka source adapter started",
		"brokers", a.cfg.Brokers,
		"topic", a.cfg.Topic,
		"group", a.cfg.Group,
	)

	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			a.logger.Info("kafka source adapter stopping")
			_ = client.CommitUncommittedOffsets(context.Background())
			return nil
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				a.logger.Warn("kafka fetch error", "topic", e.Topic, "partition", e.Partition, "error", e.Err)
			}
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			a.handleRecord(sink, rec)
		})
	}
}

func (a *Adapter) handleRecord(sink source.Sink, rec *kgo.Record) {
	var ev record
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		a.logger.Warn("failed to parse topology event", "error", err, "kafka_offset", rec.Offset)
		return
	}
	if ev.SourceID == "" && a.cfg.Registry != nil {
		ev.SourceID = a.cfg.Registry.Resolve(map[string]string{
			"protocol": "kafka",
			"topic":    rec.Topic,
			"key":      string(rec.Key),
		})
	}
	if ev.LocationID == "" || ev.SourceID == "" {
		a.logger.Warn("topology event missing location_id/source_id", "kafka_offset", rec.Offset)
		return
	}

	now := time.Now()
	var err error
	if ev.State {
		var timeout *time.Duration
		if ev.TimeoutSeconds != nil {
			d := time.Duration(*ev.TimeoutSeconds) * time.Second
			timeout = &d
		}
		err = sink.Trigger(ev.LocationID, ev.SourceID, timeout, now)
	} else {
		err = sink.Clear(ev.LocationID, ev.SourceID, nil, now)
	}
	if err != nil {
		a.logger.Warn("topology event translation failed", "location_id", ev.LocationID, "source_id", ev.SourceID, "error", err)
	}
}

// buildSASLMechanism constructs the appropriate SASL mechanism.
func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
}
