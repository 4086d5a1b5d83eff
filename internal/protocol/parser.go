package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/errutil"
)

// ReadPacket blocks until one full frame is available on r and decodes it.
// I/O failures carry errutil.CodeTransport; frames that violate the wire
// format carry errutil.CodeProtocol.
func ReadPacket(r io.Reader) (Packet, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Packet{}, oops.In("protocol").
			Code(errutil.CodeTransport).
			Wrapf(err, "failed to read packet length")
	}

	length := int32(binary.LittleEndian.Uint32(prefix[:]))
	if length < MinPacketSize {
		return Packet{}, oops.In("protocol").
			Code(errutil.CodeProtocol).
			With("length", length).
			Errorf("packet too small: %d bytes (min %d)", length, MinPacketSize)
	}
	if length > MaxInboundSize {
		return Packet{}, oops.In("protocol").
			Code(errutil.CodeProtocol).
			With("length", length).
			Errorf("packet too large: %d bytes (max %d)", length, MaxInboundSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, oops.In("protocol").
			Code(errutil.CodeTransport).
			With("length", length).
			Wrapf(err, "failed to read packet payload (%d bytes)", length)
	}

	return Decode(payload)
}

// Decode splits a frame payload (everything after the length prefix) into
// its fixed fields and the two null-terminated strings.
func Decode(payload []byte) (Packet, error) {
	if len(payload) < MinPacketSize {
		return Packet{}, oops.In("protocol").
			Code(errutil.CodeProtocol).
			With("length", len(payload)).
			Errorf("packet too small: %d bytes (min %d)", len(payload), MinPacketSize)
	}

	p := Packet{
		ID:   int32(binary.LittleEndian.Uint32(payload[0:4])),
		Type: PacketType(int32(binary.LittleEndian.Uint32(payload[4:8]))),
	}

	rest := payload[8:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return Packet{}, oops.In("protocol").
			Code(errutil.CodeProtocol).
			With("id", p.ID).
			Errorf("packet body is not null-terminated")
	}
	p.Body = string(rest[:end])

	// The padding field must be exactly one empty string.
	padding := rest[end+1:]
	if len(padding) != 1 || padding[0] != 0 {
		return Packet{}, oops.In("protocol").
			Code(errutil.CodeProtocol).
			With("id", p.ID).
			With("trailing", len(padding)).
			Errorf("packet padding is malformed")
	}

	return p, nil
}

// WritePacket encodes p and writes the frame to w.
func WritePacket(w io.Writer, p Packet) error {
	data, err := EncodePacket(p)
	if err != nil {
		return err
	}
	return writeFrame(w, p, data)
}

// WriteResponse is WritePacket for the server side of a connection.
func WriteResponse(w io.Writer, p Packet) error {
	data, err := EncodeResponse(p)
	if err != nil {
		return err
	}
	return writeFrame(w, p, data)
}

func writeFrame(w io.Writer, p Packet, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return oops.In("protocol").
			Code(errutil.CodeTransport).
			With("id", p.ID).
			Wrapf(err, "failed to write packet")
	}
	return nil
}
