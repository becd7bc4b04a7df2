// Package geometry converts page coordinates into the cord lengths a
// two-motor hanging plotter understands.
//
// The left motor shaft is the origin. X grows to the right towards the right
// motor, Y grows downwards. A pen position is fully described by the length
// of cord unwound from each motor.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidDimensions = errors.New("invalid physical dimensions")

// PhysicalDimensions describes the machine and page layout, in millimetres
type PhysicalDimensions struct {
	MotorInterspace float64 `json:"motor_interspace"` // distance between motor shafts
	PageLeftOffset  float64 `json:"page_left_offset"` // left shaft to page left edge
	PageTopOffset   float64 `json:"page_top_offset"`  // left shaft to page top edge
	PageWidth       float64 `json:"page_width"`
	PageHeight      float64 `json:"page_height"`
}

// DefaultPhysicalDimensions is an A4 portrait page centred under motors
// 754mm apart.
func DefaultPhysicalDimensions() PhysicalDimensions {
	return PhysicalDimensions{
		MotorInterspace: 754,
		PageLeftOffset:  (754 - 210) / 1.98,
		PageTopOffset:   192,
		PageWidth:       210,
		PageHeight:      297,
	}
}

// Validate checks that the page sits between the motors
func (d PhysicalDimensions) Validate() error {
	for name, v := range map[string]float64{
		"motor_interspace": d.MotorInterspace,
		"page_width":       d.PageWidth,
		"page_height":      d.PageHeight,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidDimensions, name, v)
		}
	}
	if d.PageLeftOffset < 0 || d.PageTopOffset < 0 {
		return fmt.Errorf("%w: page offsets must not be negative", ErrInvalidDimensions)
	}
	if d.PageLeftOffset+d.PageWidth > d.MotorInterspace {
		return fmt.Errorf("%w: page (%.1fmm + %.1fmm) extends past the right motor at %.1fmm",
			ErrInvalidDimensions, d.PageLeftOffset, d.PageWidth, d.MotorInterspace)
	}
	return nil
}

// ToMachine converts a page position to motor-frame coordinates
func (d PhysicalDimensions) ToMachine(x, y float64) (mx, my float64) {
	return d.PageLeftOffset + x, d.PageTopOffset + y
}

// CordLengths returns the left and right cord lengths that put the pen at
// page position (x, y).
func (d PhysicalDimensions) CordLengths(x, y float64) (left, right float64) {
	mx, my := d.ToMachine(x, y)
	left = math.Hypot(mx, my)
	right = math.Hypot(d.MotorInterspace-mx, my)
	return left, right
}
