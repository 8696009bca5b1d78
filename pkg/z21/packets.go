package z21

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LAN envelope constants.
const (
	// HeaderXBus is the LAN header ID for X-Bus frames.
	HeaderXBus = 0x40

	// HeaderSerialNumber is the LAN header ID for serial number replies.
	HeaderSerialNumber = 0x10

	// HeaderLogoff is the LAN header ID for the logoff command.
	HeaderLogoff = 0x30

	// POMPacketLen is the total length of a POM read/write datagram.
	POMPacketLen = 12

	// MaxLocoAddress is the highest addressable decoder (14-bit space,
	// 9999 in practice on the station's own UI).
	MaxLocoAddress = 0x3FFF

	// MaxCVAddress is the highest 0-based CV address the option byte can
	// carry (10 bits).
	MaxCVAddress = 0x3FF
)

// X-Bus frame constants for POM commands.
const (
	xHeaderCV   = 0xE6 // LAN_X_CV_POM_*
	db0POM      = 0x30
	optionWrite = 0xEC // 111011MM, MM = CV address bits 9..8
	optionRead  = 0xE4 // 111001MM
)

// Codec errors.
var (
	ErrAddressRange  = errors.New("locomotive address out of range")
	ErrCVRange       = errors.New("cv address out of range")
	ErrChecksum      = errors.New("checksum mismatch")
	ErrShortDatagram = errors.New("datagram too short")
)

// MessageKind classifies a decoded inbound datagram.
type MessageKind uint8

const (
	// MessageUnknown is any datagram this codec does not interpret.
	MessageUnknown MessageKind = iota

	// MessageCVResult is a successful CV read/write confirmation
	// (LAN_X_CV_RESULT).
	MessageCVResult

	// MessageCVNack is a programming negative acknowledgment
	// (LAN_X_CV_NACK).
	MessageCVNack

	// MessageSerialNumber is a reply to the serial number request.
	MessageSerialNumber
)

// String returns the message kind name.
func (k MessageKind) String() string {
	switch k {
	case MessageCVResult:
		return "CV_RESULT"
	case MessageCVNack:
		return "CV_NACK"
	case MessageSerialNumber:
		return "SERIAL_NUMBER"
	default:
		return "UNKNOWN"
	}
}

// Message is a decoded inbound datagram. CV is the 0-based CV address;
// it is only meaningful for MessageCVResult.
type Message struct {
	Kind   MessageKind
	CV     uint16
	Value  byte
	Serial uint32
}

// SplitAddress splits a 14-bit locomotive address into the high six bits
// (DB1) and the low eight bits (DB2) of a POM frame.
func SplitAddress(addr uint16) (msb, lsb byte) {
	return byte(addr>>8) & 0x3F, byte(addr)
}

// JoinAddress recombines the two POM address bytes.
func JoinAddress(msb, lsb byte) uint16 {
	return uint16(msb&0x3F)<<8 | uint16(lsb)
}

// XOR returns the byte-wise XOR of b.
func XOR(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// buildPOM assembles the shared 12-byte POM datagram layout.
func buildPOM(addr, cv uint16, option, value byte) []byte {
	msb, lsb := SplitAddress(addr)
	pkt := make([]byte, 0, POMPacketLen)
	pkt = append(pkt, POMPacketLen, 0x00) // length, little-endian
	pkt = append(pkt, HeaderXBus, 0x00)
	pkt = append(pkt, xHeaderCV, db0POM, msb, lsb)
	pkt = append(pkt, option|byte(cv>>8)&0x03, byte(cv), value)
	return append(pkt, XOR(pkt[4:]))
}

// BuildPOMWriteByte builds a LAN_X_CV_POM_WRITE_BYTE datagram writing
// value to the 0-based CV address cv on the decoder at addr.
func BuildPOMWriteByte(addr, cv uint16, value byte) ([]byte, error) {
	if addr > MaxLocoAddress {
		return nil, fmt.Errorf("%w: %d", ErrAddressRange, addr)
	}
	if cv > MaxCVAddress {
		return nil, fmt.Errorf("%w: %d", ErrCVRange, cv)
	}
	return buildPOM(addr, cv, optionWrite, value), nil
}

// BuildPOMReadByte builds a LAN_X_CV_POM_READ_BYTE datagram for the
// 0-based CV address cv on the decoder at addr. The value byte of a
// read command must be zero on the wire.
func BuildPOMReadByte(addr, cv uint16) ([]byte, error) {
	if addr > MaxLocoAddress {
		return nil, fmt.Errorf("%w: %d", ErrAddressRange, addr)
	}
	if cv > MaxCVAddress {
		return nil, fmt.Errorf("%w: %d", ErrCVRange, cv)
	}
	return buildPOM(addr, cv, optionRead, 0x00), nil
}

// BuildSerialNumberRequest builds a LAN_GET_SERIAL_NUMBER datagram.
// The station drops silent clients after about a minute, so this packet
// doubles as the session keepalive ping.
func BuildSerialNumberRequest() []byte {
	return []byte{0x04, 0x00, HeaderSerialNumber, 0x00}
}

// BuildLogoff builds a LAN_LOGOFF datagram announcing the end of the
// session. Fire-and-forget; the station sends no reply.
func BuildLogoff() []byte {
	return []byte{0x04, 0x00, HeaderLogoff, 0x00}
}

// Codec decodes inbound Z21 datagrams.
//
// StrictChecksum controls whether the trailing XOR of X-Bus frames is
// verified on receipt. The station computes it on everything it sends,
// but tolerating a bad trailer keeps the client usable against bridges
// that rewrite frames without fixing it up.
type Codec struct {
	StrictChecksum bool
}

// DecodeInbound interprets one inbound datagram. Unrecognized or
// malformed datagrams decode to MessageUnknown with a nil error; an
// error is returned only when StrictChecksum is set and an otherwise
// valid X-Bus frame fails verification.
func (c Codec) DecodeInbound(data []byte) (Message, error) {
	if len(data) < 4 {
		return Message{}, ErrShortDatagram
	}

	switch data[2] {
	case HeaderSerialNumber:
		if data[3] != 0x00 || len(data) < 8 {
			return Message{Kind: MessageUnknown}, nil
		}
		return Message{
			Kind:   MessageSerialNumber,
			Serial: binary.LittleEndian.Uint32(data[4:8]),
		}, nil

	case HeaderXBus:
		if data[3] != 0x00 || len(data) < 6 {
			return Message{Kind: MessageUnknown}, nil
		}
		xHeader, db0 := data[4], data[5]

		switch {
		case xHeader == 0x61 && db0 == 0x13:
			return Message{Kind: MessageCVNack}, nil

		case xHeader == 0x64 && db0 == 0x14 && len(data) >= 9:
			if c.StrictChecksum && len(data) >= 10 {
				if XOR(data[4:len(data)-1]) != data[len(data)-1] {
					return Message{Kind: MessageUnknown}, ErrChecksum
				}
			}
			return Message{
				Kind:  MessageCVResult,
				CV:    uint16(data[6])<<8 | uint16(data[7]),
				Value: data[8],
			}, nil
		}
	}

	return Message{Kind: MessageUnknown}, nil
}

// BuildCVResult assembles a LAN_X_CV_RESULT datagram as the station
// would send it. Used by tests and by replay tooling.
func BuildCVResult(cv uint16, value byte) []byte {
	pkt := []byte{0x0A, 0x00, HeaderXBus, 0x00, 0x64, 0x14, byte(cv >> 8), byte(cv), value}
	return append(pkt, XOR(pkt[4:]))
}

// BuildCVNack assembles a LAN_X_CV_NACK datagram as the station would
// send it.
func BuildCVNack() []byte {
	pkt := []byte{0x07, 0x00, HeaderXBus, 0x00, 0x61, 0x13}
	return append(pkt, XOR(pkt[4:]))
}
