package geometry

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCordLengths(t *testing.T) {
	d := PhysicalDimensions{MotorInterspace: 800, PageLeftOffset: 100, PageTopOffset: 200, PageWidth: 600, PageHeight: 400}

	tests := []struct {
		name      string
		x, y      float64
		wantLeft  float64
		wantRight float64
	}{
		// mx=100, my=200
		{"page origin", 0, 0, math.Hypot(100, 200), math.Hypot(700, 200)},
		// mx=400, my=300: symmetric under the midpoint
		{"centre line", 300, 100, 500, 500},
		// mx=300, my=400: 3-4-5 triangle on the left
		{"pythagorean", 200, 200, 500, math.Hypot(500, 400)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, right := d.CordLengths(tt.x, tt.y)
			if !almostEqual(left, tt.wantLeft) {
				t.Errorf("left = %v, want %v", left, tt.wantLeft)
			}
			if !almostEqual(right, tt.wantRight) {
				t.Errorf("right = %v, want %v", right, tt.wantRight)
			}
		})
	}
}

func TestDefaultPhysicalDimensions(t *testing.T) {
	d := DefaultPhysicalDimensions()
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if d.MotorInterspace != 754 {
		t.Errorf("MotorInterspace = %v, want 754", d.MotorInterspace)
	}
	if d.PageWidth != 210 || d.PageHeight != 297 {
		t.Errorf("page = %vx%v, want 210x297", d.PageWidth, d.PageHeight)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PhysicalDimensions)
		wantErr bool
	}{
		{"defaults", func(*PhysicalDimensions) {}, false},
		{"zero interspace", func(d *PhysicalDimensions) { d.MotorInterspace = 0 }, true},
		{"negative width", func(d *PhysicalDimensions) { d.PageWidth = -1 }, true},
		{"negative offset", func(d *PhysicalDimensions) { d.PageTopOffset = -5 }, true},
		{"page past right motor", func(d *PhysicalDimensions) { d.PageLeftOffset = 600 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DefaultPhysicalDimensions()
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDimensions) {
				t.Errorf("error = %v, want ErrInvalidDimensions", err)
			}
		})
	}
}
