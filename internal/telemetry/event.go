// Package telemetry records what the bot observes and does.
//
// Components hand Events to a Dispatcher, which queues them and feeds a
// Sink on its own goroutine. Emit never blocks: when the queue is full the
// event is dropped and counted. Sinks write to the log, to Prometheus and
// optionally to a PostgreSQL audit table.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Kind classifies an event.
type Kind string

const (
	KindCandidate  Kind = "candidate"  // Source order passed the filters
	KindFiltered   Kind = "filtered"   // Source order rejected by a filter
	KindCopy       Kind = "copy"       // Copy attempt finished
	KindCancel     Kind = "cancel"     // Derived order cancel attempted
	KindOrphan     Kind = "orphan"     // Copy landed after its source was cancelled
	KindOwnUpdate  Kind = "own_update" // Own order filled or closed
	KindExposure   Kind = "exposure"   // Periodic exposure snapshot
	KindConnection Kind = "connection" // Feed session state change
	KindShutdown   Kind = "shutdown"   // Bot shutting down
)

// Event is one telemetry record. Only the fields relevant to Kind are set.
type Event struct {
	ID          uuid.UUID
	Time        time.Time
	Kind        Kind
	OperationID uuid.UUID // Copy operation, when the event belongs to one

	Account    string
	SourceHash string
	OrderHash  string
	MarketHash string
	Status     string
	Reason     string

	Price    *uint256.Int
	Stake    *uint256.Int
	Count    int
	Duration time.Duration
}

// NewEvent creates an event of kind stamped with a fresh ID and the current
// time.
func NewEvent(kind Kind) Event {
	return Event{
		ID:   uuid.New(),
		Time: time.Now(),
		Kind: kind,
	}
}
