package gwmap

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned when adding a gateway that is already
	// registered in the group.
	ErrAlreadyExists = errors.New("gateway already exists")

	// ErrNotFound is returned when deleting an unknown gateway. Lookups
	// through Map.Gateway do not return it; they report an unknown gateway
	// as a nil row.
	ErrNotFound = errors.New("gateway not found")

	// ErrNoAnaGroupID is returned when gateway creation exhausts the ANA
	// group id space.
	ErrNoAnaGroupID = errors.New("no ANA group id available")

	// ErrNoNonces is returned by the blocklist bridge when the gateway has
	// no nonces to fence. Not fatal: the caller continues with a degraded
	// ACTIVE transition.
	ErrNoNonces = errors.New("no nonces to blocklist")
)

// DecodeError reports a malformed encoded payload.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d: %s", e.Offset, e.Msg)
}

// assert panics on invariant violations. These encode programming errors: a
// correct caller sequence never trips them.
func assert(cond bool, format string, args ...any) {
	if !cond {
		panic("gwmap: " + fmt.Sprintf(format, args...))
	}
}
