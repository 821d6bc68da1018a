package remote

import (
	"errors"
	"fmt"
)

// GenericMessage is what users see for transport and authorization failures.
const GenericMessage = "Something went wrong"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")

	// ErrSessionExpired is returned after a refresh-and-retry still got 401.
	// The session store has been cleared by then.
	ErrSessionExpired = fmt.Errorf("session expired: %w", ErrUnauthorized)
)

// DomainError is a response with success=false. Message is the server's
// text and is shown to the user as is.
type DomainError struct {
	Status  int
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// TransportError covers network failures and 5xx responses.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	if errors.Is(err, ErrNotFound) {
		return "Member Not Found"
	}
	return GenericMessage
}
