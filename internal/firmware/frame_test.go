package firmware

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriteReadFrame(t *testing.T) {
	tests := []struct {
		name    string
		typ     FrameType
		payload []byte
	}{
		{"empty stop", FrameStop, nil},
		{"pause", FramePause, EncodePause(true)},
		{"data", FrameData, []byte{1, 2, 3, 4, 5}},
		{"fault", FrameFault, []byte("pen jammed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, tt.typ, tt.payload); err != nil {
				t.Fatalf("WriteFrame() error = %v", err)
			}
			if buf.Len() != HeaderSize+len(tt.payload) {
				t.Errorf("encoded length = %d, want %d", buf.Len(), HeaderSize+len(tt.payload))
			}

			f, err := ReadFrame(&buf)
			if err != nil {
				t.Fatalf("ReadFrame() error = %v", err)
			}
			if f.Type != tt.typ {
				t.Errorf("Type = %s, want %s", f.Type, tt.typ)
			}
			if !bytes.Equal(f.Payload, tt.payload) {
				t.Errorf("Payload = %v, want %v", f.Payload, tt.payload)
			}
		})
	}
}

func TestReadFrame_EOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame(empty) error = %v, want io.EOF", err)
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, FrameData, []byte{1, 2, 3, 4})
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := ReadFrame(bytes.NewReader(truncated))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrame(truncated) error = %v, want io.ErrUnexpectedEOF", err)
	}
	if got := classify("read", "x", 0, err); !errors.Is(got, ErrProtocol) {
		t.Errorf("classify(truncated) = %v, want ErrProtocol", got)
	}
}

func TestReadFrame_Oversize(t *testing.T) {
	hdr := []byte{byte(FrameData), 0xff, 0xff, 0xff, 0xff}
	_, err := ReadFrame(bytes.NewReader(hdr))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("ReadFrame(oversize) error = %v, want ErrProtocol", err)
	}
}

func TestHelloReplyCodec(t *testing.T) {
	want := MachineConfig{
		InstructionBufferSize: 4096,
		MaxMotorSpeed:         1500,
		MinPulseWidth:         12,
		ProtocolVersion:       1,
	}
	got, err := DecodeHelloReply(EncodeHelloReply(want))
	if err != nil {
		t.Fatalf("DecodeHelloReply() error = %v", err)
	}
	if got != want {
		t.Errorf("DecodeHelloReply() = %+v, want %+v", got, want)
	}

	if _, err := DecodeHelloReply([]byte{1, 2, 3}); !errors.Is(err, ErrProtocol) {
		t.Errorf("DecodeHelloReply(short) error = %v, want ErrProtocol", err)
	}
}

func TestDecodeAck(t *testing.T) {
	n, err := DecodeAck(EncodeAck(123456))
	if err != nil || n != 123456 {
		t.Errorf("DecodeAck() = %d, %v, want 123456, nil", n, err)
	}
	if _, err := DecodeAck([]byte{1}); !errors.Is(err, ErrProtocol) {
		t.Errorf("DecodeAck(short) error = %v, want ErrProtocol", err)
	}
}

func TestDecodePause(t *testing.T) {
	tests := []struct {
		payload []byte
		want    bool
		wantErr bool
	}{
		{[]byte{0}, false, false},
		{[]byte{1}, true, false},
		{[]byte{2}, false, true},
		{nil, false, true},
	}
	for _, tt := range tests {
		got, err := DecodePause(tt.payload)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodePause(%v) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("DecodePause(%v) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestDecodeMove(t *testing.T) {
	left, right, err := DecodeMove(EncodeMove(412.5, 388.25))
	if err != nil {
		t.Fatalf("DecodeMove() error = %v", err)
	}
	if left != 412.5 || right != 388.25 {
		t.Errorf("DecodeMove() = (%v, %v), want (412.5, 388.25)", left, right)
	}
}

func TestMachineConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MachineConfig
		wantErr bool
	}{
		{"valid", MachineConfig{InstructionBufferSize: 64, ProtocolVersion: 1}, false},
		{"zero buffer", MachineConfig{InstructionBufferSize: 0, ProtocolVersion: 1}, true},
		{"future version", MachineConfig{InstructionBufferSize: 64, ProtocolVersion: 9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrProtocol) {
				t.Errorf("Validate() error = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"192.168.4.1", "192.168.4.1:8888"},
		{"plotter.local:9000", "plotter.local:9000"},
		{"::1", "[::1]:8888"},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
