// Package instruction holds the precomputed binary instruction stream of one
// drawing. The bytes are produced by the drawing generator and are opaque to
// everything in this module except for their length and content.
package instruction

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Cache file names written by the drawing generator
const (
	BinaryFileName = "instructions.bin"
	StartFileName  = "start.bin"
)

var (
	ErrNoCachedDrawing = errors.New("no cached drawing")
	ErrInvalidStart    = errors.New("invalid start position")
)

// Set is an immutable instruction stream plus the pen's starting offset
type Set struct {
	bytes  []byte
	startX float64
	startY float64
}

// New copies b into a new Set. The start offset must be finite.
func New(b []byte, startX, startY float64) (*Set, error) {
	if !finite(startX) || !finite(startY) {
		return nil, fmt.Errorf("%w: (%v, %v)", ErrInvalidStart, startX, startY)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Set{bytes: cp, startX: startX, startY: startY}, nil
}

// Bytes returns the instruction stream. Callers must not modify it.
func (s *Set) Bytes() []byte {
	return s.bytes
}

// Len returns the stream length in bytes
func (s *Set) Len() int {
	return len(s.bytes)
}

// Start returns the drawing's starting offset in page millimetres
func (s *Set) Start() (x, y float64) {
	return s.startX, s.startY
}

// LoadCache reads instructions.bin and start.bin from dir. A missing
// start.bin yields a (0, 0) offset; a missing instructions.bin is
// ErrNoCachedDrawing.
func LoadCache(dir string) (*Set, error) {
	data, err := os.ReadFile(filepath.Join(dir, BinaryFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoCachedDrawing, dir)
		}
		return nil, fmt.Errorf("reading instructions: %w", err)
	}

	x, y, err := LoadStart(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return New(data, x, y)
}

// LoadStart reads the "x y" start offset from start.bin in dir
func LoadStart(dir string) (x, y float64, err error) {
	f, err := os.Open(filepath.Join(dir, StartFileName))
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()

	var fields []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields = append(fields, strings.Fields(sc.Text())...)
	}
	if err := sc.Err(); err != nil {
		return 0, 0, fmt.Errorf("reading start position: %w", err)
	}
	return ParseStart(fields)
}

// ParseStart parses the first two numeric fields as x and y
func ParseStart(fields []string) (x, y float64, err error) {
	var vals []float64
	for _, f := range fields {
		v, perr := strconv.ParseFloat(f, 64)
		if perr != nil {
			continue
		}
		vals = append(vals, v)
		if len(vals) == 2 {
			break
		}
	}
	if len(vals) < 2 {
		return 0, 0, fmt.Errorf("%w: need two numbers, got %q", ErrInvalidStart, strings.Join(fields, " "))
	}
	if !finite(vals[0]) || !finite(vals[1]) {
		return 0, 0, fmt.Errorf("%w: (%v, %v)", ErrInvalidStart, vals[0], vals[1])
	}
	return vals[0], vals[1], nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
