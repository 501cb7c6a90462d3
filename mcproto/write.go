package mcproto

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
)

// WriteVarInt writes a VarInt (Minecraft format) to w
func WriteVarInt(w io.Writer, value int32) error {
	var buf [5]byte
	i := 0
	v := uint32(value)
	for {
		temp := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			temp |= 0x80
		}
		buf[i] = temp
		i++
		if v == 0 {
			break
		}
	}
	_, err := w.Write(buf[:i])
	return err
}

// WriteString writes a Minecraft length-prefixed string
func WriteString(w io.Writer, s string) error {
	if err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func WriteUnsignedShort(w io.Writer, value uint16) error {
	return binary.Write(w, binary.BigEndian, value)
}

func WriteByteArray(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// BuildPacket builds a framed packet: [length VarInt][packetId VarInt][payload]
func BuildPacket(packetID int32, payload []byte) []byte {
	var b bytes.Buffer
	_ = WriteVarInt(&b, packetID)
	b.Write(payload)

	var framed bytes.Buffer
	_ = WriteVarInt(&framed, int32(b.Len()))
	framed.Write(b.Bytes())
	return framed.Bytes()
}

func WriteHandshake(w io.Writer, handshake *Handshake) error {
	var payload bytes.Buffer
	_ = WriteVarInt(&payload, int32(handshake.ProtocolVersion))
	_ = WriteString(&payload, handshake.ServerAddress)
	_ = WriteUnsignedShort(&payload, handshake.ServerPort)
	_ = WriteVarInt(&payload, int32(handshake.NextState))

	_, err := w.Write(BuildPacket(PacketIdHandshake, payload.Bytes()))
	return err
}

func WriteStatusRequest(w io.Writer) error {
	_, err := w.Write(BuildPacket(PacketIdStatusRequest, nil))
	return err
}

// WriteLoginStart writes a LoginStart carrying only the name, as sent by pre-1.19 clients
func WriteLoginStart(w io.Writer, name string) error {
	var payload bytes.Buffer
	_ = WriteString(&payload, name)
	_, err := w.Write(BuildPacket(PacketIdLoginStart, payload.Bytes()))
	return err
}

func WriteEncryptionResponse(w io.Writer, response *EncryptionResponse) error {
	var payload bytes.Buffer
	_ = WriteByteArray(&payload, response.SharedSecret)
	_ = WriteByteArray(&payload, response.VerifyToken)
	_, err := w.Write(BuildPacket(PacketIdEncryptionResponse, payload.Bytes()))
	return err
}

// WriteStatusJSONPacket writes a Status Response (packet 0x00) with the provided JSON string
func WriteStatusJSONPacket(w io.Writer, jsonString string) error {
	var payload bytes.Buffer
	if err := WriteString(&payload, jsonString); err != nil {
		return err
	}
	_, err := w.Write(BuildPacket(PacketIdStatusResponse, payload.Bytes()))
	return err
}

// WriteStatusFromStruct writes a Status Response from a struct
func WriteStatusFromStruct(w io.Writer, status StatusResponse) error {
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return WriteStatusJSONPacket(w, string(b))
}
