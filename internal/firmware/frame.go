package firmware

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

/*
WIRE FRAMING

Every message in either direction is one frame:

    ┌─────────┬──────────────────┬──────────────────────┐
    │ type u8 │ length u32 (LE)  │ payload (length B)   │
    └─────────┴──────────────────┴──────────────────────┘

    Hello       host→fw  version u8
    HelloReply  fw→host  buffer u32 | max speed u32 | min pulse u32 | version u8
    Data        host→fw  raw instruction bytes, at most buffer bytes
    Ack         fw→host  consumed u32 (bytes freed since the previous ack)
    Pause       host→fw  paused u8 (0 = resume, 1 = pause)
    Stop        host→fw  (empty)
    Move        host→fw  left f64 | right f64 (cord lengths, mm)
    MoveDone    fw→host  (empty)
    Fault       fw→host  UTF-8 reason

A frame is always produced by a single Write call so that frames written by
different goroutines under the same lock never interleave.
*/

// FrameType identifies a frame on the wire
type FrameType uint8

const (
	FrameHello      FrameType = 0x01
	FrameHelloReply FrameType = 0x02
	FrameData       FrameType = 0x10
	FrameAck        FrameType = 0x11
	FramePause      FrameType = 0x20
	FrameStop       FrameType = 0x21
	FrameMove       FrameType = 0x30
	FrameMoveDone   FrameType = 0x31
	FrameFault      FrameType = 0x7E
)

// Protocol constants
const (
	HeaderSize     = 5
	MaxPayloadSize = 16 << 20

	// ProtocolVersion is the highest protocol version this host speaks
	ProtocolVersion uint8 = 1

	helloReplySize = 13
	ackSize        = 4
	moveSize       = 16
)

// supportedVersions lists firmware protocol versions the host accepts
var supportedVersions = map[uint8]bool{
	1: true,
}

// SupportedVersion reports whether the host can talk to firmware speaking v
func SupportedVersion(v uint8) bool {
	return supportedVersions[v]
}

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameHelloReply:
		return "hello_reply"
	case FrameData:
		return "data"
	case FrameAck:
		return "ack"
	case FramePause:
		return "pause"
	case FrameStop:
		return "stop"
	case FrameMove:
		return "move"
	case FrameMoveDone:
		return "move_done"
	case FrameFault:
		return "fault"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Frame is one decoded message
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame encodes a frame and writes it with a single Write call
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return protocolErrorf("%s payload of %d bytes exceeds limit %d", t, len(payload), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(t)
	binary.LittleEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads exactly one frame.
// A clean end of stream before the header returns io.EOF; a stream that ends
// inside a frame returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	length := binary.LittleEndian.Uint32(hdr[1:])
	if length > MaxPayloadSize {
		return Frame{}, protocolErrorf("frame length %d exceeds limit %d", length, MaxPayloadSize)
	}
	f := Frame{Type: FrameType(hdr[0])}
	if length == 0 {
		return f, nil
	}
	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return f, nil
}

// EncodeHelloReply builds the firmware's handshake reply payload
func EncodeHelloReply(cfg MachineConfig) []byte {
	p := make([]byte, helloReplySize)
	binary.LittleEndian.PutUint32(p[0:4], uint32(cfg.InstructionBufferSize))
	binary.LittleEndian.PutUint32(p[4:8], cfg.MaxMotorSpeed)
	binary.LittleEndian.PutUint32(p[8:12], cfg.MinPulseWidth)
	p[12] = cfg.ProtocolVersion
	return p
}

// DecodeHelloReply parses a handshake reply payload. It checks structure
// only; MachineConfig.Validate checks the values.
func DecodeHelloReply(p []byte) (MachineConfig, error) {
	if len(p) != helloReplySize {
		return MachineConfig{}, protocolErrorf("hello reply is %d bytes, want %d", len(p), helloReplySize)
	}
	return MachineConfig{
		InstructionBufferSize: int(binary.LittleEndian.Uint32(p[0:4])),
		MaxMotorSpeed:         binary.LittleEndian.Uint32(p[4:8]),
		MinPulseWidth:         binary.LittleEndian.Uint32(p[8:12]),
		ProtocolVersion:       p[12],
	}, nil
}

// EncodeAck builds an acknowledgement payload
func EncodeAck(consumed uint32) []byte {
	p := make([]byte, ackSize)
	binary.LittleEndian.PutUint32(p, consumed)
	return p
}

// DecodeAck parses an acknowledgement payload
func DecodeAck(p []byte) (uint32, error) {
	if len(p) != ackSize {
		return 0, protocolErrorf("ack is %d bytes, want %d", len(p), ackSize)
	}
	return binary.LittleEndian.Uint32(p), nil
}

// EncodePause builds a pause/resume payload
func EncodePause(paused bool) []byte {
	if paused {
		return []byte{1}
	}
	return []byte{0}
}

// DecodePause parses a pause/resume payload
func DecodePause(p []byte) (bool, error) {
	if len(p) != 1 || p[0] > 1 {
		return false, protocolErrorf("malformed pause payload %v", p)
	}
	return p[0] == 1, nil
}

// EncodeMove builds a move payload from two cord lengths
func EncodeMove(left, right float64) []byte {
	p := make([]byte, moveSize)
	binary.LittleEndian.PutUint64(p[0:8], math.Float64bits(left))
	binary.LittleEndian.PutUint64(p[8:16], math.Float64bits(right))
	return p
}

// DecodeMove parses a move payload
func DecodeMove(p []byte) (left, right float64, err error) {
	if len(p) != moveSize {
		return 0, 0, protocolErrorf("move is %d bytes, want %d", len(p), moveSize)
	}
	left = math.Float64frombits(binary.LittleEndian.Uint64(p[0:8]))
	right = math.Float64frombits(binary.LittleEndian.Uint64(p[8:16]))
	return left, right, nil
}
