package mcproto

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// DecodeHandshake takes the Packet.Data bytes and decodes a Handshake message from it.
// The data must be consumed exactly and carry a known next state.
func DecodeHandshake(data []byte) (*Handshake, error) {
	handshake := &Handshake{}
	buffer := bytes.NewBuffer(data)
	var err error

	protocolVersion, err := ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read protocol version")
	}
	handshake.ProtocolVersion = ProtocolVersion(protocolVersion)

	handshake.ServerAddress, err = ReadString(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read server address")
	}

	// Forge Mod Loader adds some data after the server address. Truncate it.
	handshake.ServerAddress, _, _ = strings.Cut(handshake.ServerAddress, string(rune(0)))

	handshake.ServerPort, err = ReadUnsignedShort(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read server port")
	}

	nextState, err := ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read next state")
	}
	handshake.NextState = State(nextState)

	if handshake.NextState < StateStatus || handshake.NextState > StateTransfer {
		return nil, errors.Errorf("unknown next state %d", nextState)
	}
	if buffer.Len() != 0 {
		return nil, errors.Errorf("%d trailing bytes after handshake", buffer.Len())
	}
	return handshake, nil
}

// DecodeLoginStart takes the Packet.Data bytes and decodes the username from a LoginStart message.
// Anything after the name (signature data, uuid) varies by protocol version and is ignored.
func DecodeLoginStart(data []byte) (*LoginStart, error) {
	buffer := bytes.NewBuffer(data)

	name, err := ReadString(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read username")
	}
	if !ValidUsername(name) {
		return nil, errors.Errorf("invalid username %q", name)
	}

	return &LoginStart{Name: name}, nil
}

// DecodeEncryptionResponse takes the Packet.Data bytes of a login packet 0x01.
// 1.19 through 1.19.2 replace the verify token with a has-token flag followed by either
// the token or a salt and message signature.
func DecodeEncryptionResponse(data []byte) (*EncryptionResponse, error) {
	buffer := bytes.NewBuffer(data)

	secretLength, err := ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read shared secret length")
	}
	if secretLength <= 0 {
		return nil, errors.Errorf("invalid shared secret length %d", secretLength)
	}
	response := &EncryptionResponse{}
	response.SharedSecret, err = ReadByteArray(buffer, secretLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read shared secret")
	}

	if buffer.Len() == 0 {
		return nil, errors.New("missing verify token")
	}

	rest := buffer.Bytes()
	tokenLength, err := ReadVarInt(buffer)
	if err == nil && tokenLength > 0 && tokenLength == buffer.Len() {
		response.VerifyToken = buffer.Bytes()
		return response, nil
	}

	if err := decodeSignedVerification(bytes.NewBuffer(rest), response); err != nil {
		return nil, errors.Wrap(err, "unrecognized verify token layout")
	}
	return response, nil
}

func decodeSignedVerification(buffer *bytes.Buffer, response *EncryptionResponse) error {
	hasVerifyToken, err := ReadBoolean(buffer)
	if err != nil {
		return err
	}

	if hasVerifyToken {
		length, err := ReadVarInt(buffer)
		if err != nil {
			return err
		}
		if length <= 0 {
			return errors.Errorf("invalid verify token length %d", length)
		}
		if response.VerifyToken, err = ReadByteArray(buffer, length); err != nil {
			return err
		}
	} else {
		if response.Salt, err = ReadLong(buffer); err != nil {
			return errors.Wrap(err, "failed to read salt")
		}
		length, err := ReadVarInt(buffer)
		if err != nil {
			return err
		}
		if length <= 0 {
			return errors.Errorf("invalid signature length %d", length)
		}
		if response.Signature, err = ReadByteArray(buffer, length); err != nil {
			return err
		}
	}

	if buffer.Len() != 0 {
		return errors.Errorf("%d trailing bytes", buffer.Len())
	}
	return nil
}

// ValidUsername reports whether name could be a Minecraft account name
func ValidUsername(name string) bool {
	if len(name) == 0 || len(name) > 16 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
