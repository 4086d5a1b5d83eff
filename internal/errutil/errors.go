// Package errutil defines the error codes shared across fadmin and helpers
// for logging oops errors through zerolog.
package errutil

import (
	"github.com/samber/oops"
)

// Error codes attached to oops errors.
const (
	// CodeTransport marks socket level failures: refused, reset, closed, timed out.
	CodeTransport = "RCON_TRANSPORT"
	// CodeProtocol marks frames that could not be decoded or did not match the request.
	CodeProtocol = "RCON_PROTOCOL"
	// CodeUnauthorized marks a rejected RCON password.
	CodeUnauthorized = "RCON_UNAUTHORIZED"
	// CodeNotConnected marks commands refused because the session is down.
	CodeNotConnected = "RCON_NOT_CONNECTED"
	// CodeRejected marks a command refused before anything was written to
	// the connection. The session stays usable.
	CodeRejected = "RCON_REJECTED"
	// CodeCommand marks a command whose output could not be interpreted.
	CodeCommand = "COMMAND_FAILED"
	// CodeConfig marks invalid configuration.
	CodeConfig = "CONFIG_INVALID"
	// CodeDelivery marks a failed hand-off to the chat platform or broker.
	CodeDelivery = "DELIVERY_FAILED"
)

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

// IsConnectionLoss reports whether err means the RCON connection is gone
// and has to be re-established.
func IsConnectionLoss(err error) bool {
	return HasCode(err, CodeTransport) ||
		HasCode(err, CodeProtocol) ||
		HasCode(err, CodeUnauthorized)
}
