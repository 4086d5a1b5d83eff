// Package protocol implements the RCON wire format spoken by the Factorio
// server. Every frame is a signed little-endian 32-bit length followed by
// the request id, the packet type, a null-terminated body and one empty
// null-terminated padding field.
package protocol

import (
	"fmt"

	"github.com/fadmin-project/fadmin/internal/util"
)

// PacketType identifies the kind of an RCON packet.
type PacketType int32

// Packet types. AUTH_RESPONSE and COMMAND share the same value on the wire.
const (
	TypeResponse     PacketType = 0
	TypeCommand      PacketType = 2
	TypeAuthResponse PacketType = 2
	TypeLogin        PacketType = 3
)

// Frame size limits, counted over everything after the length prefix.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MinPacketSize is id + type + two empty null-terminated strings.
	MinPacketSize = 10
	// MaxOutboundSize is the largest frame the server accepts from a client.
	MaxOutboundSize = 4096
	// MaxInboundSize bounds frames read from the server. Stats responses
	// routinely exceed MaxOutboundSize.
	MaxInboundSize = 1 << 20
	// MaxCommandSize is the longest command body that fits in one
	// outbound frame.
	MaxCommandSize = MaxOutboundSize - MinPacketSize
)

// AuthFailedID is the request id the server answers with when login fails.
const AuthFailedID int32 = -1

// Packet is a single decoded RCON frame.
type Packet struct {
	ID   int32
	Type PacketType
	Body string
}

func (t PacketType) String() string {
	switch t {
	case TypeResponse:
		return "response"
	case TypeCommand:
		return "command"
	case TypeLogin:
		return "login"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

// String renders the packet for logging. Login bodies carry the password
// and are never printed.
func (p Packet) String() string {
	body := p.Body
	if p.Type == TypeLogin {
		body = "<redacted>"
	} else if len(body) > 64 {
		body = util.TruncateBytes(body, 64) + "..."
	}
	return fmt.Sprintf("Packet[id=%d type=%s body=%q]", p.ID, p.Type, body)
}
