package transport

import (
	"errors"

	"mbft/internal/frame"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	// ErrReadTimeout means no response arrived in time. Send handles its own
	// per-attempt timeouts by retransmitting and never returns it; the
	// file-transfer client returns it when the open deadline runs out or a
	// version, close or abort reply does not arrive.
	ErrReadTimeout = errors.New("read timeout")

	// ErrConnectionLost means the outer send deadline expired or the
	// reconnect attempts were exhausted.
	ErrConnectionLost = errors.New("connection lost")

	// ErrSynchronization means an ok/rs sequence id did not match the
	// expected sync; fatal for the current send.
	ErrSynchronization = errors.New("synchronization lost")

	// ErrPayloadOverflow is the builder's local overflow error; nothing is
	// written to the link.
	ErrPayloadOverflow = frame.ErrPayloadOverflow

	// ErrFatal means the firmware reported an unrecoverable error ("fe").
	ErrFatal = errors.New("peer fatal error")
)
