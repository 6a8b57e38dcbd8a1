package protocol

import (
	"errors"
	"fmt"
	"testing"

	"balldrop.ai/internal/sim/tuning"
	"balldrop.ai/internal/sim/world"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrBadRequest,
		ErrInvalidConfig,
		ErrNoRace,
		ErrNoParticipants,
		ErrAlreadyStarted,
		ErrNotStarted,
		ErrShakeActive,
		ErrClosed,
		ErrBusy,
		ErrNotFound,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{world.ErrNoParticipants, ErrNoParticipants},
		{fmt.Errorf("start: %w", world.ErrAlreadyStarted), ErrAlreadyStarted},
		{world.ErrNotStarted, ErrNotStarted},
		{world.ErrShakeActive, ErrShakeActive},
		{world.ErrClosed, ErrClosed},
		{fmt.Errorf("%w: world.w must be > 0", tuning.ErrInvalid), ErrInvalidConfig},
		{errors.New("disk full"), ErrInternal},
	}
	for _, tc := range cases {
		if got := CodeFor(tc.err); got != tc.want {
			t.Fatalf("CodeFor(%v)=%q want %q", tc.err, got, tc.want)
		}
		if !IsKnownCode(CodeFor(tc.err)) {
			t.Fatalf("CodeFor returned an unknown code for %v", tc.err)
		}
	}
}
