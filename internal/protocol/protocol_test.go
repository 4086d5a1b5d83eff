package protocol_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/protocol"
)

func TestEncode_Layout(t *testing.T) {
	data, err := protocol.Encode(7, protocol.TypeCommand, "/version")
	require.NoError(t, err)

	want := []byte{
		0x12, 0x00, 0x00, 0x00, // length 18
		0x07, 0x00, 0x00, 0x00, // id
		0x02, 0x00, 0x00, 0x00, // type
		'/', 'v', 'e', 'r', 's', 'i', 'o', 'n', 0x00,
		0x00,
	}
	assert.Equal(t, want, data)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  protocol.Packet
	}{
		{"empty body", protocol.Packet{ID: 0, Type: protocol.TypeLogin, Body: ""}},
		{"command", protocol.Packet{ID: 42, Type: protocol.TypeCommand, Body: "/fadmin poll"}},
		{"auth failure id", protocol.Packet{ID: protocol.AuthFailedID, Type: protocol.TypeAuthResponse}},
		{"unicode", protocol.Packet{ID: 3, Type: protocol.TypeResponse, Body: "Grüße, 工場 🚂"}},
		{"max int32 id", protocol.Packet{ID: 2147483647, Type: protocol.TypeResponse, Body: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, protocol.WritePacket(&buf, tt.pkt))

			got, err := protocol.ReadPacket(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.pkt, got)
			assert.Zero(t, buf.Len(), "reader must consume exactly one frame")
		})
	}
}

func TestReadPacket_Sequential(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WritePacket(&buf, protocol.Packet{ID: 1, Type: protocol.TypeResponse, Body: "a"}))
	require.NoError(t, protocol.WritePacket(&buf, protocol.Packet{ID: 2, Type: protocol.TypeResponse, Body: "b"}))

	first, err := protocol.ReadPacket(&buf)
	require.NoError(t, err)
	second, err := protocol.ReadPacket(&buf)
	require.NoError(t, err)

	assert.Equal(t, "a", first.Body)
	assert.Equal(t, "b", second.Body)
}

func TestReadPacket_LargeInbound(t *testing.T) {
	body := strings.Repeat("9", 3*protocol.MaxOutboundSize)
	frame := rawFrame(9, protocol.TypeResponse, []byte(body+"\x00\x00"))

	got, err := protocol.ReadPacket(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
}

func TestReadPacket_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		code string
	}{
		{
			name: "length below minimum",
			data: []byte{0x04, 0, 0, 0, 1, 0, 0, 0},
			code: errutil.CodeProtocol,
		},
		{
			name: "negative length",
			data: []byte{0xff, 0xff, 0xff, 0xff},
			code: errutil.CodeProtocol,
		},
		{
			name: "length above inbound maximum",
			data: []byte{0x00, 0x00, 0x20, 0x00},
			code: errutil.CodeProtocol,
		},
		{
			name: "missing body terminator",
			data: rawFrame(1, protocol.TypeResponse, []byte("abcd")),
			code: errutil.CodeProtocol,
		},
		{
			name: "missing padding",
			data: rawFrame(1, protocol.TypeResponse, []byte("abc\x00x")),
			code: errutil.CodeProtocol,
		},
		{
			name: "truncated length prefix",
			data: []byte{0x0a, 0x00},
			code: errutil.CodeTransport,
		},
		{
			name: "truncated payload",
			data: []byte{0x0e, 0, 0, 0, 1, 0, 0, 0},
			code: errutil.CodeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ReadPacket(bytes.NewReader(tt.data))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestReadPacket_EOF(t *testing.T) {
	_, err := protocol.ReadPacket(bytes.NewReader(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, errutil.IsConnectionLoss(err))
}

func TestEncode_Rejects(t *testing.T) {
	t.Run("nul in body", func(t *testing.T) {
		_, err := protocol.Encode(1, protocol.TypeCommand, "a\x00b")
		errutil.AssertErrorCode(t, err, errutil.CodeRejected)
		assert.False(t, errutil.IsConnectionLoss(err))
	})

	t.Run("oversized", func(t *testing.T) {
		_, err := protocol.Encode(1, protocol.TypeCommand, strings.Repeat("x", protocol.MaxOutboundSize))
		errutil.AssertErrorCode(t, err, errutil.CodeRejected)
		assert.False(t, errutil.IsConnectionLoss(err))
	})

	t.Run("largest accepted", func(t *testing.T) {
		body := strings.Repeat("x", protocol.MaxOutboundSize-protocol.MinPacketSize)
		data, err := protocol.Encode(1, protocol.TypeCommand, body)
		require.NoError(t, err)
		assert.Len(t, data, protocol.LengthPrefixSize+protocol.MaxOutboundSize)
	})
}

func TestPacket_StringRedactsLogin(t *testing.T) {
	p := protocol.Packet{ID: 0, Type: protocol.TypeLogin, Body: "hunter2"}
	assert.NotContains(t, p.String(), "hunter2")
	assert.Contains(t, p.String(), "login")
}

func rawFrame(id int32, typ protocol.PacketType, tail []byte) []byte {
	payload := make([]byte, 8, 8+len(tail))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(id))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(typ))
	payload = append(payload, tail...)

	frame := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	return append(frame, payload...)
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, protocol.ValidateCommand(strings.Repeat("x", protocol.MaxCommandSize)))

	err := protocol.ValidateCommand(strings.Repeat("x", protocol.MaxCommandSize+1))
	errutil.AssertErrorCode(t, err, errutil.CodeRejected)

	// Multi-byte text is measured in bytes.
	err = protocol.ValidateCommand(strings.Repeat("字", 1400))
	errutil.AssertErrorCode(t, err, errutil.CodeRejected)

	err = protocol.ValidateCommand("/fadmin chat a\x00b")
	errutil.AssertErrorCode(t, err, errutil.CodeRejected)
}
