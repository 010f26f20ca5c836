package hellogpu

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
)

// Matrix represents a 2D affine transformation in clip space.
// It uses a 2x3 matrix in row-major order:
//
//	| a  b  c |
//	| d  e  f |
//
// This represents the transformation:
//
//	x' = a*x + b*y + c
//	y' = d*x + e*y + f
type Matrix struct {
	A, B, C float32
	D, E, F float32
}

// Mat4Size is the byte size of the uniform a Matrix is uploaded as.
const Mat4Size = 16 * 4

// Scale creates a scaling matrix.
func Scale(x, y float32) Matrix {
	return Matrix{
		A: x, B: 0, C: 0,
		D: 0, E: y, F: 0,
	}
}

// Rotate creates a rotation matrix (angle in radians, counter-clockwise).
func Rotate(angle float32) Matrix {
	sin, cos := math32.Sincos(angle)
	return Matrix{
		A: cos, B: -sin, C: 0,
		D: sin, E: cos, F: 0,
	}
}

// Multiply multiplies two matrices (m * other): other is applied first.
func (m Matrix) Multiply(other Matrix) Matrix {
	return Matrix{
		A: m.A*other.A + m.B*other.D,
		B: m.A*other.B + m.B*other.E,
		C: m.A*other.C + m.B*other.F + m.C,
		D: m.D*other.A + m.E*other.D,
		E: m.D*other.B + m.E*other.E,
		F: m.D*other.C + m.E*other.F + m.F,
	}
}

// Mat4 expands m to a column-major 4x4 matrix that leaves z and w alone,
// the layout of a WGSL mat4x4<f32>.
func (m Matrix) Mat4() [16]float32 {
	return [16]float32{
		m.A, m.D, 0, 0,
		m.B, m.E, 0, 0,
		0, 0, 1, 0,
		m.C, m.F, 0, 1,
	}
}

// Bytes returns Mat4 as little-endian bytes ready for a uniform buffer.
func (m Matrix) Bytes() []byte {
	cols := m.Mat4()
	buf := make([]byte, 0, Mat4Size)
	for _, v := range cols {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}
