package firmware_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/goleak"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/simulator"
	"github.com/HyphaGroup/plotd/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDial_Handshake(t *testing.T) {
	fw := testutil.NewFirmware(t, testutil.WithBufferSize(512))

	c, cfg, err := firmware.Dial(context.Background(), fw.Addr(), testutil.FastOptions())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	if cfg.InstructionBufferSize != 512 {
		t.Errorf("InstructionBufferSize = %d, want 512", cfg.InstructionBufferSize)
	}
	if cfg.ProtocolVersion != firmware.ProtocolVersion {
		t.Errorf("ProtocolVersion = %d, want %d", cfg.ProtocolVersion, firmware.ProtocolVersion)
	}
	testutil.WaitFor(t, fw, "handshake", func(s simulator.Stats) bool { return s.Handshakes == 1 })
}

func TestDial_RefusedIsConnectionError(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, _, err = firmware.Dial(context.Background(), addr, testutil.FastOptions())
	var connErr *firmware.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial() error = %v, want *ConnectionError", err)
	}
	if connErr.Op != "dial" {
		t.Errorf("Op = %q, want %q", connErr.Op, "dial")
	}
}

func TestDial_UnsupportedVersion(t *testing.T) {
	fw := testutil.NewFirmware(t, testutil.WithProtocolVersion(42))

	_, _, err := firmware.Dial(context.Background(), fw.Addr(), testutil.FastOptions())
	if !errors.Is(err, firmware.ErrProtocol) {
		t.Errorf("Dial() error = %v, want ErrProtocol", err)
	}
}

func TestDial_ZeroBuffer(t *testing.T) {
	fw := testutil.NewFirmware(t, testutil.WithBufferSize(0))

	_, _, err := firmware.Dial(context.Background(), fw.Addr(), testutil.FastOptions())
	if !errors.Is(err, firmware.ErrProtocol) {
		t.Errorf("Dial() error = %v, want ErrProtocol", err)
	}
}

func TestDial_Fault(t *testing.T) {
	fw := testutil.NewFirmware(t, testutil.WithFault("busy drawing"))

	_, _, err := firmware.Dial(context.Background(), fw.Addr(), testutil.FastOptions())
	if !errors.Is(err, firmware.ErrProtocol) {
		t.Errorf("Dial() error = %v, want ErrProtocol", err)
	}
}

func TestDial_HandshakeTimeout(t *testing.T) {
	fw := testutil.NewFirmware(t, testutil.WithMute())

	_, _, err := firmware.Dial(context.Background(), fw.Addr(), testutil.FastOptions())
	var toErr *firmware.TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("Dial() error = %v, want *TimeoutError", err)
	}
	if toErr.Op != "handshake" {
		t.Errorf("Op = %q, want %q", toErr.Op, "handshake")
	}
}

func TestDial_ContextCanceled(t *testing.T) {
	fw := testutil.NewFirmware(t, testutil.WithMute())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := firmware.Dial(ctx, fw.Addr(), testutil.FastOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dial() error = %v, want context.Canceled", err)
	}
}

func TestSplit_WriteData(t *testing.T) {
	fw := testutil.NewFirmware(t, testutil.WithManualAck())

	c, _, err := firmware.Dial(context.Background(), fw.Addr(), testutil.FastOptions())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	r, w := c.Split()

	if err := w.WriteData([]byte{7, 8, 9}); err != nil {
		t.Fatalf("WriteData() error = %v", err)
	}
	testutil.WaitFor(t, fw, "window", func(s simulator.Stats) bool { return len(s.Windows) == 1 })

	if err := fw.Ack(3); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	f, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	n, err := firmware.DecodeAck(f.Payload)
	if f.Type != firmware.FrameAck || err != nil || n != 3 {
		t.Errorf("ReadFrame() = %s/%d (%v), want ack/3", f.Type, n, err)
	}

	if err := w.WritePause(true); err != nil {
		t.Fatalf("WritePause() error = %v", err)
	}
	if err := w.WriteStop(); err != nil {
		t.Fatalf("WriteStop() error = %v", err)
	}
	st := testutil.WaitFor(t, fw, "stop", func(s simulator.Stats) bool { return s.Stops == 1 })
	if len(st.Pauses) != 1 || !st.Pauses[0] {
		t.Errorf("Pauses = %v, want [true]", st.Pauses)
	}

	// Both halves close the same socket.
	if err := r.Close(); err != nil {
		t.Errorf("ReadHalf.Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("WriteHalf.Close() error = %v", err)
	}
}

func TestMoveTo(t *testing.T) {
	fw := testutil.NewFirmware(t)

	if err := firmware.MoveTo(context.Background(), fw.Addr(), 400.5, 380.25, testutil.FastOptions()); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}

	st := testutil.WaitFor(t, fw, "move", func(s simulator.Stats) bool { return len(s.Moves) == 1 })
	if st.Moves[0].Left != 400.5 || st.Moves[0].Right != 380.25 {
		t.Errorf("Moves[0] = %+v, want {400.5 380.25}", st.Moves[0])
	}
}
