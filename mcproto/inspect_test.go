package mcproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handshakeBytes(t *testing.T, nextState State) []byte {
	var buf bytes.Buffer
	require.NoError(t, WriteHandshake(&buf, &Handshake{
		ProtocolVersion: 758,
		ServerAddress:   "play.example.com",
		ServerPort:      25565,
		NextState:       nextState,
	}))
	return buf.Bytes()
}

func loginStartBytes(t *testing.T, name string) []byte {
	var buf bytes.Buffer
	require.NoError(t, WriteLoginStart(&buf, name))
	return buf.Bytes()
}

func encryptionResponseBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, WriteEncryptionResponse(&buf, &EncryptionResponse{
		SharedSecret: bytes.Repeat([]byte{0xAB}, 128),
		VerifyToken:  bytes.Repeat([]byte{0xCD}, 128),
	}))
	return buf.Bytes()
}

func TestDecodeLoginUsername(t *testing.T) {
	modernLogin := func() []byte {
		var payload bytes.Buffer
		require.NoError(t, WriteString(&payload, "Notch"))
		payload.Write(bytes.Repeat([]byte{0x11}, 16)) // player uuid
		return BuildPacket(PacketIdLoginStart, payload.Bytes())
	}

	tests := []struct {
		name  string
		chunk []byte
		want  string
	}{
		{
			name:  "login start alone",
			chunk: loginStartBytes(t, "Steve"),
			want:  "Steve",
		},
		{
			name:  "handshake and login start in one chunk",
			chunk: append(handshakeBytes(t, StateLogin), loginStartBytes(t, "Bob_The_Builder")...),
			want:  "Bob_The_Builder",
		},
		{
			name:  "login start with trailing uuid",
			chunk: modernLogin(),
			want:  "Notch",
		},
		{
			name:  "handshake alone",
			chunk: handshakeBytes(t, StateLogin),
			want:  "",
		},
		{
			name:  "status request",
			chunk: append(handshakeBytes(t, StateStatus), BuildPacket(PacketIdStatusRequest, nil)...),
			want:  "",
		},
		{
			name:  "truncated login start",
			chunk: loginStartBytes(t, "Steve")[:4],
			want:  "",
		},
		{
			name:  "name with invalid characters",
			chunk: loginStartBytes(t, "not a name!"),
			want:  "",
		},
		{
			name:  "name too long",
			chunk: loginStartBytes(t, "ThisNameIsWayTooLong"),
			want:  "",
		},
		{
			name:  "garbage",
			chunk: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			want:  "",
		},
		{
			name:  "empty",
			chunk: nil,
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeLoginUsername(tt.chunk))
		})
	}
}

func TestIsEncryptionResponse(t *testing.T) {
	signedVariant := func(trailing ...byte) []byte {
		var payload bytes.Buffer
		require.NoError(t, WriteByteArray(&payload, bytes.Repeat([]byte{0x01}, 128)))
		payload.WriteByte(0x00) // no verify token, salt and signature follow
		payload.Write(make([]byte, 8))
		require.NoError(t, WriteByteArray(&payload, bytes.Repeat([]byte{0x02}, 256)))
		payload.Write(trailing)
		return BuildPacket(PacketIdEncryptionResponse, payload.Bytes())
	}
	flaggedToken := func() []byte {
		var payload bytes.Buffer
		require.NoError(t, WriteByteArray(&payload, bytes.Repeat([]byte{0x01}, 128)))
		payload.WriteByte(0x01)
		require.NoError(t, WriteByteArray(&payload, bytes.Repeat([]byte{0x03}, 128)))
		return BuildPacket(PacketIdEncryptionResponse, payload.Bytes())
	}

	tests := []struct {
		name  string
		chunk []byte
		want  bool
	}{
		{name: "encryption response", chunk: encryptionResponseBytes(t), want: true},
		{name: "1.19 signed variant", chunk: signedVariant(), want: true},
		{name: "1.19 flagged verify token", chunk: flaggedToken(), want: true},
		{name: "1.19 signed variant with trailing bytes", chunk: signedVariant(0x00), want: false},
		{name: "login start", chunk: loginStartBytes(t, "Steve"), want: false},
		{name: "status ping", chunk: BuildPacket(0x01, make([]byte, 8)), want: false},
		{name: "truncated", chunk: encryptionResponseBytes(t)[:20], want: false},
		{name: "missing verify token", chunk: BuildPacket(0x01, append([]byte{0x02}, 0x01, 0x02)), want: false},
		{name: "empty", chunk: []byte{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEncryptionResponse(tt.chunk))
		})
	}
}

func TestIsMotdPacket(t *testing.T) {
	statusWith := func(description interface{}) []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteStatusFromStruct(&buf, StatusResponse{
			Version:     StatusVersion{Name: "1.18.2", Protocol: 758},
			Players:     StatusPlayers{Max: 20},
			Description: description,
		}))
		return buf.Bytes()
	}

	assert.True(t, IsMotdPacket(statusWith("A Minecraft Server"), "A Minecraft Server"))
	assert.True(t, IsMotdPacket(statusWith(map[string]interface{}{"text": "A Minecraft Server"}), "A Minecraft Server"))
	assert.True(t, IsMotdPacket(statusWith(map[string]interface{}{
		"text":  "A ",
		"extra": []interface{}{map[string]interface{}{"text": "Minecraft"}, " Server"},
	}), "A Minecraft Server"))
	assert.False(t, IsMotdPacket(statusWith("Other"), "A Minecraft Server"))
	assert.False(t, IsMotdPacket(BuildPacket(PacketIdStatusResponse, []byte{0x03, 'n', 'o', 't'}), "not"))
	assert.False(t, IsMotdPacket(encryptionResponseBytes(t), ""))
}
