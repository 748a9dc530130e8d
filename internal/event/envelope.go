package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeStake
	EventTypeRevenueSettlement
	EventTypeDeficitResolution
	EventTypePoolConfigured
	EventTypeMarketConfigured
	EventTypeRevenueAccrued
	EventTypeVaultAdjusted
	EventTypeLendingFlow
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Idempotency key of the command that produced this event
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Fund pool the event belongs to
	PoolID uint16

	// Caller-supplied logical timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event payload
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all emitted event payloads implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// Pool returns the fund pool id
	Pool() uint16

	// Time returns the logical unix timestamp in seconds
	Time() int64
}

// Sink receives events synchronously, in emission order, only after the
// operation that produced them has committed.
type Sink interface {
	Record(evt Event)
}

// Recorder is a Sink that accumulates events until drained.
// Not thread-safe.
type Recorder struct {
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(evt Event) {
	r.events = append(r.events, evt)
}

// Drain returns the recorded events and resets the recorder.
func (r *Recorder) Drain() []Event {
	out := r.events
	r.events = nil
	return out
}

// Len returns the number of undrained events
func (r *Recorder) Len() int {
	return len(r.events)
}

func (et EventType) String() string {
	switch et {
	case EventTypeStake:
		return "Stake"
	case EventTypeRevenueSettlement:
		return "RevenueSettlement"
	case EventTypeDeficitResolution:
		return "DeficitResolution"
	case EventTypePoolConfigured:
		return "PoolConfigured"
	case EventTypeMarketConfigured:
		return "MarketConfigured"
	case EventTypeRevenueAccrued:
		return "RevenueAccrued"
	case EventTypeVaultAdjusted:
		return "VaultAdjusted"
	case EventTypeLendingFlow:
		return "LendingFlow"
	default:
		return "Unknown"
	}
}
