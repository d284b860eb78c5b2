package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/config"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event types published for orchestrated operations
const (
	TypeIntentionSubmitted = "intention.submitted"
	TypeIntentionConfirmed = "intention.confirmed"
	TypeIntentionFailed    = "intention.failed"
	TypeDepositSent        = "deposit.sent"
	TypeDepositConfirmed   = "deposit.confirmed"
	TypeDepositFailed      = "deposit.failed"
	TypeWithdrawSubmitted  = "withdraw.submitted"
)

// Event is a lifecycle record for a deposit, withdrawal or signed intention
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	CSNA      string            `json:"csna,omitempty"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Status    string            `json:"status,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// NewEvent stamps an event with a fresh ID and the current time
func NewEvent(eventType, csna, txHash string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		CSNA:      csna,
		TxHash:    txHash,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher publishes operation events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }

// NATSPublisher publishes events to a NATS JetStream stream
type NATSPublisher struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	logger     zerolog.Logger
	streamName string
	subject    string
}

// NewPublisher returns a NATS publisher when events are enabled and a no-op otherwise
func NewPublisher(cfg config.EventsConfig, logger zerolog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	return NewNATSPublisher(cfg, logger)
}

// NewNATSPublisher connects to NATS and ensures the event stream exists
func NewNATSPublisher(cfg config.EventsConfig, logger zerolog.Logger) (*NATSPublisher, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("no NATS urls configured")
	}

	opts := []nats.Option{
		nats.Name("satoshi-bridge"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if len(cfg.URLs) > 1 {
		opts = append(opts, nats.DontRandomize())
	}

	servers := cfg.URLs[0]
	for _, u := range cfg.URLs[1:] {
		servers += "," + u
	}

	conn, err := nats.Connect(servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NATSPublisher{
		conn:       conn,
		js:         js,
		logger:     logger.With().Str("component", "events").Logger(),
		streamName: cfg.StreamName,
		subject:    cfg.Subject,
	}

	if err := p.initializeStream(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize stream: %w", err)
	}

	p.logger.Info().
		Str("stream", p.streamName).
		Str("subject", p.subject).
		Msg("Event publisher initialized")

	return p, nil
}

func (p *NATSPublisher) initializeStream() error {
	if _, err := p.js.StreamInfo(p.streamName); err == nil {
		p.logger.Info().Str("stream", p.streamName).Msg("Stream already exists")
		return nil
	}

	stream, err := p.js.AddStream(&nats.StreamConfig{
		Name:      p.streamName,
		Subjects:  []string{p.subject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		MaxMsgs:   100000,
		Discard:   nats.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info().Str("stream", stream.Config.Name).Msg("Stream created successfully")
	return nil
}

// Subject returns the subject an event is published on
func Subject(base string, event Event) string {
	return base + "." + event.Type
}

// Publish sends the event on <subject>.<type>
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(Subject(p.subject, event), data, nats.Context(ctx), nats.MsgId(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Uint64("stream_seq", ack.Sequence).
		Msg("Event published")

	return nil
}

// Close drains the connection
func (p *NATSPublisher) Close() error {
	p.logger.Info().Msg("Closing event publisher")
	if p.conn != nil {
		return p.conn.Drain()
	}
	return nil
}

// Emit publishes an event and logs failures without returning them
func Emit(ctx context.Context, pub Publisher, logger zerolog.Logger, event Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Str("type", event.Type).Msg("Failed to publish event")
	}
}
