package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"membership/internal/core"
)

// LedgerMessage is the body published for each ledger event.
type LedgerMessage struct {
	Event     core.LedgerEvent `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewLedgerMessage(ev core.LedgerEvent) *LedgerMessage {
	return &LedgerMessage{Event: ev, Timestamp: time.Now()}
}

func (m *LedgerMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerMessageFromJSON decodes and validates a message body.
func LedgerMessageFromJSON(data []byte) (*LedgerMessage, error) {
	var msg LedgerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger event: %w", err)
	}
	return &msg, nil
}
