package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/HyphaGroup/plotd/internal/instruction"
)

// Pattern returns n bytes counting up from 0 and wrapping at 251, so that
// any misplaced or duplicated window shows up in a byte comparison.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// SetOption is a function that modifies a test drawing.
type SetOption func(*setParams)

type setParams struct {
	size   int
	startX float64
	startY float64
}

// NewTestSet creates an instruction set of patterned bytes.
func NewTestSet(t *testing.T, opts ...SetOption) *instruction.Set {
	t.Helper()

	p := setParams{size: 200, startX: 10, startY: 20}
	for _, opt := range opts {
		opt(&p)
	}

	set, err := instruction.New(Pattern(p.size), p.startX, p.startY)
	if err != nil {
		t.Fatalf("failed to build instruction set: %v", err)
	}
	return set
}

// WithSize sets the length of the drawing in bytes.
func WithSize(n int) SetOption {
	return func(p *setParams) {
		p.size = n
	}
}

// WithStart sets the drawing's start offset.
func WithStart(x, y float64) SetOption {
	return func(p *setParams) {
		p.startX = x
		p.startY = y
	}
}

// WriteCache writes set into a fresh cache directory the way the drawing
// pipeline does and returns the directory.
func WriteCache(t *testing.T, set *instruction.Set) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, instruction.BinaryFileName), set.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write instructions: %v", err)
	}
	x, y := set.Start()
	start := fmt.Sprintf("%g %g\n", x, y)
	if err := os.WriteFile(filepath.Join(dir, instruction.StartFileName), []byte(start), 0o644); err != nil {
		t.Fatalf("failed to write start position: %v", err)
	}
	return dir
}
