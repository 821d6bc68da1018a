package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMemberCreated   EventType = "member.created"
	EventMemberUpdated   EventType = "member.updated"
	EventPaymentRecorded EventType = "payment.recorded"
	EventMeatTaken       EventType = "meat.taken"
	EventMeatNotTaken    EventType = "meat.not_taken"
)

var (
	ErrEmptyEventID   = errors.New("event id is required")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrEventNoSubject = errors.New("event has no member")
)

// LedgerEvent records one accepted command. Events are emitted after the
// membership API confirmed the change and are mirrored to the spreadsheet.
type LedgerEvent struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	MemberID   string        `json:"memberId"`
	MemberName string        `json:"memberName,omitempty"`
	Year       int           `json:"year,omitempty"`
	Months     []int         `json:"months,omitempty"`
	Method     PaymentMethod `json:"method,omitempty"`
	Amount     int64         `json:"amount,omitempty"`
	Actor      string        `json:"actor,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

func NewLedgerEvent(t EventType, memberID string, at time.Time) LedgerEvent {
	return LedgerEvent{
		ID:         uuid.NewString(),
		Type:       t,
		MemberID:   memberID,
		OccurredAt: at.UTC(),
	}
}

func (t EventType) Validate() error {
	switch t {
	case EventMemberCreated, EventMemberUpdated, EventPaymentRecorded, EventMeatTaken, EventMeatNotTaken:
		return nil
	default:
		return ErrUnknownEvent
	}
}

func (e LedgerEvent) Validate() error {
	if e.ID == "" {
		return ErrEmptyEventID
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.MemberID == "" {
		return ErrEventNoSubject
	}
	return nil
}
