package transport

import (
	"errors"
	"fmt"

	"github.com/ahmad-cheema/file-verse/pkg/protocol"
)

var (
	// ErrTimeout marks a call that hit its per-call deadline.
	ErrTimeout = errors.New("call timed out")

	// ErrMalformedResponse marks a reply that is not a valid envelope response.
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is returned when no server opinion could be obtained: the network
// failed, the call timed out, or the reply could not be parsed.
type Error struct {
	Op  protocol.Operation
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call hit its deadline.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// AsTransportError checks if an error is a transport Error and returns it.
func AsTransportError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
