package mcproto

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxStringBytes is the protocol limit of 32767 UTF-16 units, each up to 3 bytes of UTF-8
const maxStringBytes = 32767*3 + 3

var ErrVarIntTooBig = errors.New("VarInt is too big")

func ReadPacket(reader io.Reader) (*Packet, error) {
	frame, err := ReadFrame(reader)
	if err != nil {
		return nil, err
	}

	return packetFromFrame(frame)
}

func packetFromFrame(frame *Frame) (*Packet, error) {
	remainder := bytes.NewBuffer(frame.Payload)

	packetID, err := ReadVarInt(remainder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read packet id")
	}

	packet := &Packet{
		// frame length plus the bytes used to store it
		Length:   frame.Length + varIntSize(frame.Length),
		PacketID: packetID,
		Data:     remainder.Bytes(),
	}

	logrus.
		WithField("packet", packet).
		Trace("Read packet")
	return packet, nil
}

func ReadFrame(reader io.Reader) (*Frame, error) {
	var err error
	frame := &Frame{}

	frame.Length, err = ReadVarInt(reader)
	if err != nil {
		return nil, err
	}

	if frame.Length < 0 || frame.Length > MaxFrameLength {
		return nil, errors.Errorf("frame length %d out of range", frame.Length)
	}

	frame.Payload, err = ReadByteArray(reader, frame.Length)
	if err != nil {
		return nil, err
	}

	return frame, nil
}

// SplitPackets decodes every complete packet at the front of chunk.
// Decoding stops at the first incomplete or malformed frame; what was decoded up to
// that point is returned.
func SplitPackets(chunk []byte) []*Packet {
	var packets []*Packet
	reader := bytes.NewReader(chunk)
	for reader.Len() > 0 {
		frame, err := ReadFrame(reader)
		if err != nil {
			break
		}
		packet, err := packetFromFrame(frame)
		if err != nil {
			break
		}
		packets = append(packets, packet)
	}
	return packets
}

func ReadVarInt(reader io.Reader) (int, error) {
	b := make([]byte, 1)
	var numRead uint = 0
	var result uint32 = 0
	for numRead < 5 {
		n, err := reader.Read(b)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			continue
		}
		value := b[0] & 0x7F
		result |= uint32(value) << (7 * numRead)

		numRead++

		if b[0]&0x80 == 0 {
			return int(int32(result)), nil
		}
	}

	return 0, ErrVarIntTooBig
}

func varIntSize(value int) int {
	v := uint32(value)
	size := 1
	for v >= 0x80 {
		v >>= 7
		size++
	}
	return size
}

func ReadString(reader io.Reader) (string, error) {
	length, err := ReadVarInt(reader)
	if err != nil {
		return "", err
	}
	if length < 0 || length > maxStringBytes {
		return "", errors.Errorf("string length %d out of range", length)
	}

	b, err := ReadByteArray(reader, length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ReadByteArray(reader io.Reader, length int) ([]byte, error) {
	if length < 0 {
		return nil, errors.Errorf("negative byte array length %d", length)
	}
	if lr, ok := reader.(interface{ Len() int }); ok && length > lr.Len() {
		return nil, io.ErrUnexpectedEOF
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

func ReadBoolean(reader io.Reader) (bool, error) {
	b, err := ReadByte(reader)
	if err != nil {
		return false, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, errors.Errorf("invalid boolean 0x%02x", b)
	}
}

func ReadByte(reader io.Reader) (byte, error) {
	buf := make([]byte, 1)
	_, err := io.ReadFull(reader, buf)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func ReadUnsignedShort(reader io.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadLong(reader io.Reader) (int64, error) {
	var value int64
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}
