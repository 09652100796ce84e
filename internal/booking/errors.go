package booking

import "errors"

var (
	ErrSlotTaken         = errors.New("slot is already taken")
	ErrRemoteUnavailable = errors.New("remote calendar unavailable")
	ErrNotFound          = errors.New("reservation not found")
	ErrPastSlot          = errors.New("slot is in the past")
	ErrOutOfRange        = errors.New("slot is outside the booking window")
	ErrOutsideHours      = errors.New("slot is outside business hours")
)
