package service

import (
	"errors"
	"fmt"

	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
)

var (
	// ErrParseIncomplete means the instruction lacked a recipient, a body or
	// a timing. The wrapping error names the missing fields.
	ErrParseIncomplete = errors.New("could not parse request")

	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrSelfAddressRequired is returned when "you" is the recipient and no
	// address was provided for it. It matches ErrUnknownRecipient as well.
	ErrSelfAddressRequired = fmt.Errorf("%w: your own address is required to message \"you\"", ErrUnknownRecipient)

	ErrEmptyBody   = errors.New("message body must not be empty")
	ErrBodyTooLong = errors.New("message body too long")

	// ErrDeliveryFailed wraps channel errors from an immediate send.
	ErrDeliveryFailed = errors.New("delivery failed")

	ErrNotFound   = repo.ErrNotFound
	ErrNotPending = repo.ErrNotPending
)
