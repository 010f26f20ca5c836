package hellogpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/chewxy/math32"
)

const matrixEpsilon = 1e-5

func near(a, b float32) bool { return math32.Abs(a-b) < matrixEpsilon }

// point is a clip-space position.
type point struct{ x, y float32 }

// apply transforms p by the column-major Mat4 the vertex shader receives.
func apply(m Matrix, p point) point {
	c := m.Mat4()
	return point{
		x: c[0]*p.x + c[4]*p.y + c[12],
		y: c[1]*p.x + c[5]*p.y + c[13],
	}
}

func TestMat4TransformsPoints(t *testing.T) {
	tests := []struct {
		name string
		m    Matrix
		in   point
		want point
	}{
		{"scale", Scale(0.5, 2), point{1, 1}, point{0.5, 2}},
		{"rotate 90deg", Rotate(math32.Pi / 2), point{1, 0}, point{0, 1}},
		{"rotate 180deg", Rotate(math32.Pi), point{1, 1}, point{-1, -1}},
		{"scale after rotate", Scale(2, 1).Multiply(Rotate(math32.Pi / 2)), point{1, 0}, point{0, 1}},
		{"rotate after scale", Rotate(math32.Pi / 2).Multiply(Scale(2, 1)), point{1, 0}, point{0, 2}},
		{"translation column", Matrix{A: 1, C: 0.1, E: 1, F: -0.2}, point{1, 1}, point{1.1, 0.8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := apply(tt.m, tt.in)
			if !near(got.x, tt.want.x) || !near(got.y, tt.want.y) {
				t.Errorf("apply(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMat4Layout(t *testing.T) {
	m := Matrix{A: 1, B: 2, C: 3, D: 4, E: 5, F: 6}
	want := [16]float32{
		1, 4, 0, 0,
		2, 5, 0, 0,
		0, 0, 1, 0,
		3, 6, 0, 1,
	}
	if got := m.Mat4(); got != want {
		t.Errorf("Mat4() = %v, want %v", got, want)
	}
}

func TestBytes(t *testing.T) {
	m := Rotate(0.5)
	b := m.Bytes()
	if len(b) != Mat4Size {
		t.Fatalf("len(Bytes()) = %d, want %d", len(b), Mat4Size)
	}
	cols := m.Mat4()
	for i, want := range cols {
		got := math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		if got != want {
			t.Errorf("element %d = %v, want %v", i, got, want)
		}
	}
}

func TestRotationPreservesLength(t *testing.T) {
	for deg := 0; deg < 360; deg += 15 {
		angle := float32(deg) * math32.Pi / 180
		p := apply(Rotate(angle), point{1, 0})
		if l := math32.Sqrt(p.x*p.x + p.y*p.y); !near(l, 1) {
			t.Errorf("Rotate(%d deg) length = %v, want 1", deg, l)
		}
	}
}
