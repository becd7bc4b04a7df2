// plotter-sim stands in for the drawing machine on a workstation. It speaks
// the firmware wire protocol on TCP, drains its instruction buffer at a fixed
// pace and acknowledges what it drew, so plotd can be exercised without
// hardware.
//
// Point plotd at it with machine.address = "127.0.0.1" (the default port is
// the firmware's, 8888).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/simulator"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	listen := flag.String("listen", net.JoinHostPort("127.0.0.1", strconv.Itoa(firmware.DefaultPort)), "Address to accept plotd on")
	buffer := flag.Int("buffer", 512, "Instruction buffer size in bytes")
	speed := flag.Uint("speed", 2000, "Reported max motor speed")
	pulse := flag.Uint("pulse", 10, "Reported min pulse width")
	chunk := flag.Int("chunk", 32, "Bytes drawn per tick (0 = whole buffer)")
	delay := flag.Duration("delay", 20*time.Millisecond, "Time to draw one chunk")
	moveDelay := flag.Duration("move-delay", 500*time.Millisecond, "Time to finish a move")
	fault := flag.String("fault", "", "Refuse every handshake with this reason")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("plotter-sim %s\n", Version)
		return
	}
	if *buffer <= 0 {
		fmt.Fprintln(os.Stderr, "--buffer must be positive")
		os.Exit(2)
	}

	cfg := simulator.Config{
		Machine: firmware.MachineConfig{
			InstructionBufferSize: *buffer,
			MaxMotorSpeed:         uint32(*speed),
			MinPulseWidth:         uint32(*pulse),
			ProtocolVersion:       firmware.ProtocolVersion,
		},
		Ack:       simulator.AckDrain,
		AckDelay:  *delay,
		AckChunk:  *chunk,
		MoveDelay: *moveDelay,
		Fault:     *fault,
	}

	srv, err := simulator.Listen(*listen, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plotter-sim: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "plotter-sim: listening on %s (buffer %d bytes, %d bytes per %v)\n",
		srv.Addr(), *buffer, *chunk, *delay)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	_ = srv.Close()
	st := srv.Stats()
	fmt.Fprintf(os.Stderr, "plotter-sim: %d connection(s), %d bytes received, %d acked, %d stop(s), %d move(s), %d overflow(s)\n",
		st.Connections, len(st.Received), st.Acked, st.Stops, len(st.Moves), st.Overflows)
}
