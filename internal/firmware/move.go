package firmware

import (
	"context"
	"time"

	"github.com/HyphaGroup/plotd/internal/logger"
)

// MoveTo opens a short-lived connection, commands the pen to the given cord
// lengths and waits for the firmware to report the move finished. The
// connection is closed before returning.
func MoveTo(ctx context.Context, address string, left, right float64, opts Options) error {
	c, _, err := Dial(ctx, address, opts)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.writeFrame(FrameMove, EncodeMove(left, right)); err != nil {
		return err
	}

	if opts.MoveTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(opts.MoveTimeout))
	}
	stop := c.watchContext(ctx)
	defer stop()

	for {
		f, err := c.readFrame("wait move_done", opts.MoveTimeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &ConnectionError{Op: "move", Addr: c.addr, Err: ctxErr}
			}
			return err
		}
		switch f.Type {
		case FrameMoveDone:
			logger.Info("Firmware %s moved to start (left: %.2fmm, right: %.2fmm)", c.addr, left, right)
			return nil
		case FrameAck:
			// Stray ack from an earlier stream; nothing is in flight here.
			continue
		case FrameFault:
			return protocolErrorf("firmware refused move: %s", string(f.Payload))
		default:
			return protocolErrorf("expected move_done, got %s", f.Type)
		}
	}
}
