package mcproto

import (
	"bytes"
	"encoding/json"
)

// DecodeLoginUsername looks through the complete packets at the front of chunk for the login
// packet that carries the player's name. Handshakes, which share packet ID 0x00, are skipped
// so that a chunk holding both the handshake and the login start still yields the name.
// An empty string means nothing was recognized.
func DecodeLoginUsername(chunk []byte) string {
	for _, packet := range SplitPackets(chunk) {
		if packet.PacketID != PacketIdLoginStart {
			continue
		}
		if _, err := DecodeHandshake(packet.Data); err == nil {
			continue
		}
		if loginStart, err := DecodeLoginStart(packet.Data); err == nil {
			return loginStart.Name
		}
	}
	return ""
}

// IsEncryptionResponse reports whether chunk starts with the client's encryption response,
// the last client packet of the login handshake before the stream is encrypted.
func IsEncryptionResponse(chunk []byte) bool {
	packets := SplitPackets(chunk)
	if len(packets) == 0 || packets[0].PacketID != PacketIdEncryptionResponse {
		return false
	}
	_, err := DecodeEncryptionResponse(packets[0].Data)
	return err == nil
}

// IsMotdPacket reports whether chunk starts with a status response whose description is motd
func IsMotdPacket(chunk []byte, motd string) bool {
	packets := SplitPackets(chunk)
	if len(packets) == 0 || packets[0].PacketID != PacketIdStatusResponse {
		return false
	}
	status, err := DecodeStatusResponse(packets[0].Data)
	if err != nil {
		return false
	}
	return DescriptionText(status.Description) == motd
}

func DecodeStatusResponse(data []byte) (*StatusResponse, error) {
	content, err := ReadString(bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}

	status := &StatusResponse{}
	if err := json.Unmarshal([]byte(content), status); err != nil {
		return nil, err
	}
	return status, nil
}

// DescriptionText flattens a status description, which is either a plain string or a chat
// component, into its text including any "extra" parts.
func DescriptionText(description interface{}) string {
	switch d := description.(type) {
	case string:
		return d
	case map[string]interface{}:
		var text bytes.Buffer
		if t, ok := d["text"].(string); ok {
			text.WriteString(t)
		}
		if extra, ok := d["extra"].([]interface{}); ok {
			for _, e := range extra {
				text.WriteString(DescriptionText(e))
			}
		}
		return text.String()
	default:
		return ""
	}
}
