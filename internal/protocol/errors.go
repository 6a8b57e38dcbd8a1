package protocol

import (
	"errors"

	"balldrop.ai/internal/sim/tuning"
	"balldrop.ai/internal/sim/world"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Operator commands.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrInvalidConfig  = "E_INVALID_CONFIG"
	ErrNoRace         = "E_NO_RACE"
	ErrNoParticipants = "E_NO_PARTICIPANTS"
	ErrAlreadyStarted = "E_ALREADY_STARTED"
	ErrNotStarted     = "E_NOT_STARTED"
	ErrShakeActive    = "E_SHAKE_ACTIVE"
	ErrClosed         = "E_CLOSED"
	ErrBusy           = "E_BUSY"
	ErrNotFound       = "E_NOT_FOUND"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrInvalidConfig:   {},
	ErrNoRace:          {},
	ErrNoParticipants:  {},
	ErrAlreadyStarted:  {},
	ErrNotStarted:      {},
	ErrShakeActive:     {},
	ErrClosed:          {},
	ErrBusy:            {},
	ErrNotFound:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a simulation or tuning error to its wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, world.ErrNoParticipants):
		return ErrNoParticipants
	case errors.Is(err, world.ErrAlreadyStarted):
		return ErrAlreadyStarted
	case errors.Is(err, world.ErrNotStarted):
		return ErrNotStarted
	case errors.Is(err, world.ErrShakeActive):
		return ErrShakeActive
	case errors.Is(err, world.ErrClosed):
		return ErrClosed
	case errors.Is(err, tuning.ErrInvalid):
		return ErrInvalidConfig
	default:
		return ErrInternal
	}
}
