package maple

import "fmt"

// Command is a Maple bus command byte (the frame's first decoded byte).
type Command uint8

const (
	CommandDeviceRequest     Command = 0x01
	CommandAllStatusRequest  Command = 0x02
	CommandDeviceReset       Command = 0x03
	CommandDeviceKill        Command = 0x04
	CommandDeviceInfoReply   Command = 0x05
	CommandAckReply          Command = 0x07
	CommandDataTransfer      Command = 0x08
	CommandGetCondition      Command = 0x09
	CommandGetMemInfo        Command = 0x0A
	CommandSetCondition      Command = 0x0E
)

// Function identifies which peripheral function a GetCondition/SetCondition
// targets, carried as the first 4 bytes of the packet's data payload.
type Function uint32

const (
	FunctionController Function = 0x01000000
	FunctionVibration  Function = 0x00010000
)

// Packet is one decoded, CRC-valid Maple frame: command + destination +
// origin + payload. In destination/origin the top 2 bits are the port
// number and the low 6 bits select the peripheral on that port.
type Packet struct {
	Command     Command
	Destination uint8
	Origin      uint8
	Data        []byte
}

// ParsePacket interprets the raw byte stream a Decoder hands off: byte 0 is
// command, byte 1 destination, byte 2 origin, byte 3 the payload word
// count (in 4-byte units), followed by that many 4-byte words.
func ParsePacket(raw []byte) (Packet, error) {
	if len(raw) < 4 {
		return Packet{}, fmt.Errorf("maple: short packet (%d bytes)", len(raw))
	}
	wordCount := int(raw[3])
	want := 4 + wordCount*4
	if len(raw) < want {
		return Packet{}, fmt.Errorf("maple: packet declares %d words but only %d bytes decoded", wordCount, len(raw)-4)
	}
	return Packet{
		Command:     Command(raw[0]),
		Destination: raw[1],
		Origin:      raw[2],
		Data:        raw[4:want],
	}, nil
}

// Port extracts the port number (top 2 bits) from a destination/origin
// byte, used to echo the port back in a response header (spec.md §4.6).
func Port(addr uint8) uint8 { return addr >> 6 }

// BuildResponse assembles a Maple frame's wire bytes: the 4-byte header
// (command, destination, origin, word count) followed by payload and a
// trailing XOR CRC byte, so the running XOR over the whole frame is zero
// -- the same invariant ParsePacket's caller checks on the decode side
// (spec.md §4.6, §8 testable property 8 "parse(build(x)) == x"). payload
// must be a multiple of 4 bytes; a short remainder is dropped from the
// word count the same way a malformed incoming frame would be.
func BuildResponse(cmd Command, destination, origin uint8, payload []byte) []byte {
	wordCount := len(payload) / 4
	out := make([]byte, 0, 4+wordCount*4+1)
	out = append(out, byte(cmd), destination, origin, byte(wordCount))
	out = append(out, payload[:wordCount*4]...)
	var crc byte
	for _, b := range out {
		crc ^= b
	}
	return append(out, crc)
}

// functionOf reads the big-endian function code from the first 4 bytes of
// a GetCondition/SetCondition packet's payload.
func functionOf(data []byte) Function {
	if len(data) < 4 {
		return 0
	}
	return Function(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]))
}
