package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"IFLedger/internal/core"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	EventStream  = "IFLEDGER_EVENTS"
	EventSubject = "ifledger.events"
)

// OutboundPublisher publishes processed events to NATS for downstream
// consumers on ifledger.events.<event_type>.<pool>.
type OutboundPublisher struct {
	js jetstream.JetStream
}

// PublishableEvent is the outbound wire form of a logged event.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	PoolID         uint16          `json:"pool_id"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream) *OutboundPublisher {
	return &OutboundPublisher{js: js}
}

// NewPublishableEvent converts a core output into its outbound form.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolID:         env.PoolID,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	if out.Command != nil {
		evt.CommandType = out.Command.CommandType().String()
	}
	return evt
}

// EventSubjectFor returns the outbound subject of an event.
func EventSubjectFor(evt PublishableEvent) string {
	return fmt.Sprintf("%s.%s.%d", EventSubject, evt.EventType, evt.PoolID)
}

// Publish sends one event. The sequence doubles as the JetStream message id,
// so a republish inside the stream's duplicate window is dropped.
func (op *OutboundPublisher) Publish(ctx context.Context, out core.CoreOutput) error {
	evt := NewPublishableEvent(out)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = op.js.Publish(ctx, EventSubjectFor(evt), data,
		jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
