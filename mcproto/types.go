package mcproto

import "fmt"

type Frame struct {
	Length  int
	Payload []byte
}

var trimLimit = 64

func trimBytes(data []byte) ([]byte, string) {
	if len(data) < trimLimit {
		return data, ""
	} else {
		return data[:trimLimit], "..."
	}
}

func (f *Frame) String() string {
	trimmed, cont := trimBytes(f.Payload)
	return fmt.Sprintf("Frame:[len=%d, payload=%#X%s]", f.Length, trimmed, cont)
}

type Packet struct {
	Length   int
	PacketID int
	Data     []byte
}

func (p *Packet) String() string {
	trimmed, cont := trimBytes(p.Data)
	return fmt.Sprintf("Packet:[len=%d, packetId=%d, data=%#X%s]", p.Length, p.PacketID, trimmed, cont)
}

type State int

const (
	StateHandshaking State = 0
	StateStatus      State = 1
	StateLogin       State = 2
	StateTransfer    State = 3
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StateTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	PacketIdHandshake          = 0x00
	PacketIdLoginStart         = 0x00
	PacketIdEncryptionResponse = 0x01
	PacketIdStatusRequest      = 0x00
	PacketIdStatusResponse     = 0x00
)

// MaxFrameLength is the largest frame length a 3-byte VarInt can carry
const MaxFrameLength = 2097151

// MaxChunkSize is the largest read the relay performs at once
const MaxChunkSize = 32767

type ProtocolVersion int

const (
	ProtocolVersion1_19   ProtocolVersion = 759
	ProtocolVersion1_19_2 ProtocolVersion = 760
)

type Handshake struct {
	ProtocolVersion ProtocolVersion
	ServerAddress   string
	ServerPort      uint16
	NextState       State
}

type LoginStart struct {
	Name string
}

type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
	// Salt and Signature are only sent by 1.19 clients signing the verify token
	Salt      int64
	Signature []byte
}

type StatusText struct {
	Text string `json:"text"`
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type StatusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

// StatusResponse holds the fields of the status JSON that the proxy cares about.
// The description is kept raw since servers send either a plain string or a chat component.
type StatusResponse struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description interface{}   `json:"description"`
	Favicon     string        `json:"favicon,omitempty"`
}
