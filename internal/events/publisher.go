// Package events publishes notifications about committed ledger movements.
package events

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// MovementRecorded is emitted after a movement commits. Publication is
// best effort and never on the request's failure path.
type MovementRecorded struct {
	Route      string      `json:"route"`
	AccountIDs []uuid.UUID `json:"account_ids"`
	Amount     int64       `json:"amount"`
	Memo       string      `json:"memo,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type Publisher interface {
	Publish(event MovementRecorded) error
}

// LogPublisher is the default publisher when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(event MovementRecorded) error {
	log.Printf("movement recorded: route=%s accounts=%v amount=%d", event.Route, event.AccountIDs, event.Amount)
	return nil
}
