package image

import (
	"errors"
	"fmt"
)

// Reason classifies why an image failed validation.
type Reason int

const (
	// ReasonEmpty means the slot header reads as erased flash
	ReasonEmpty Reason = iota + 1

	// ReasonBadMagic means the header magic is wrong
	ReasonBadMagic

	// ReasonBadHeader means the header fields are inconsistent
	ReasonBadHeader

	// ReasonTooLarge means header, payload and TLVs do not fit in the slot
	ReasonTooLarge

	// ReasonBadTLV means the TLV area is missing or malformed
	ReasonBadTLV

	// ReasonNoHash means the TLV area carries no SHA-256 entry
	ReasonNoHash

	// ReasonHashMismatch means the computed hash differs from the stored one
	ReasonHashMismatch

	// ReasonNotBootable means the image is flagged non-bootable
	ReasonNotBootable
)

// ValidationError reports an image that is not valid to boot.
type ValidationError struct {
	// Area names the slot that was checked
	Area string

	// Reason is the failure class
	Reason Reason

	// Detail adds context, may be empty
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid image: %s", e.Area, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// IsValidationError returns true if err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// String returns a human-readable name for a reason.
func (r Reason) String() string {
	switch r {
	case ReasonEmpty:
		return "slot is empty"
	case ReasonBadMagic:
		return "bad magic"
	case ReasonBadHeader:
		return "bad header"
	case ReasonTooLarge:
		return "image does not fit in slot"
	case ReasonBadTLV:
		return "bad TLV area"
	case ReasonNoHash:
		return "no image hash"
	case ReasonHashMismatch:
		return "hash mismatch"
	case ReasonNotBootable:
		return "image is not bootable"
	default:
		return fmt.Sprintf("unknown reason %d", int(r))
	}
}
