package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/errutil"
)

// PacketBuilder constructs the payload of an RCON frame.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// BuildWithLength returns the payload with a 4-byte LE length prefix.
func (b *PacketBuilder) BuildWithLength() []byte {
	data := b.buf.Bytes()
	result := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint32(result[:LengthPrefixSize], uint32(int32(len(data))))
	copy(result[LengthPrefixSize:], data)
	return result
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// Encode serializes one client-to-server RCON frame, length prefix
// included.
func Encode(id int32, typ PacketType, body string) ([]byte, error) {
	return encode(id, typ, body, MaxOutboundSize)
}

// EncodeResponse serializes a server-to-client frame. Responses may be
// larger than requests.
func EncodeResponse(p Packet) ([]byte, error) {
	return encode(p.ID, p.Type, p.Body, MaxInboundSize)
}

func encode(id int32, typ PacketType, body string, limit int) ([]byte, error) {
	if err := checkBody(id, body, limit); err != nil {
		return nil, err
	}

	b := NewPacketBuilder()
	b.WriteInt32(id).
		WriteInt32(int32(typ)).
		WriteNullString(body).
		WriteNullString("")

	return b.BuildWithLength(), nil
}

// ValidateCommand reports whether command fits in one client frame.
// The error carries errutil.CodeRejected.
func ValidateCommand(command string) error {
	return checkBody(0, command, MaxOutboundSize)
}

func checkBody(id int32, body string, limit int) error {
	if strings.IndexByte(body, 0) >= 0 {
		return oops.In("protocol").
			Code(errutil.CodeRejected).
			With("id", id).
			Errorf("packet body contains a NUL byte")
	}
	if size := MinPacketSize + len(body); size > limit {
		return oops.In("protocol").
			Code(errutil.CodeRejected).
			With("id", id).
			With("size", size).
			Errorf("packet too large: %d bytes (max %d)", size, limit)
	}
	return nil
}

// EncodePacket is Encode for an existing Packet value.
func EncodePacket(p Packet) ([]byte, error) {
	return Encode(p.ID, p.Type, p.Body)
}
