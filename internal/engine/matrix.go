package engine

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Matrix is a 4x4 rigid transform in row-major layout:
// m00,m01,m02,m03, m10,... Raw trackable poses are expressed in
// engine-native conventions (right-handed, millimetres).
type Matrix [16]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns the product a*b.
func Mul(a, b Matrix) Matrix {
	var out Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[4*i+k] * b[4*k+j]
			}
			out[4*i+j] = sum
		}
	}
	return out
}

// Translation returns the translation components of m.
func (m Matrix) Translation() (x, y, z float64) {
	return m[3], m[7], m[11]
}

// WithTranslation returns a copy of m with the translation replaced.
func (m Matrix) WithTranslation(x, y, z float64) Matrix {
	m[3], m[7], m[11] = x, y, z
	return m
}

// RigidInverse inverts a rigid transform: the rotation block is transposed
// and the translation becomes -Rᵀt. Only valid for proper rigid transforms.
func RigidInverse(m Matrix) Matrix {
	out := Matrix{
		m[0], m[4], m[8], 0,
		m[1], m[5], m[9], 0,
		m[2], m[6], m[10], 0,
		0, 0, 0, 1,
	}
	x, y, z := m.Translation()
	out[3] = -(out[0]*x + out[1]*y + out[2]*z)
	out[7] = -(out[4]*x + out[5]*y + out[6]*z)
	out[11] = -(out[8]*x + out[9]*y + out[10]*z)
	return out
}

// TranslationMatrix returns a pure translation transform.
func TranslationMatrix(x, y, z float64) Matrix {
	m := Identity()
	return m.WithTranslation(x, y, z)
}

// quatFromMatrix extracts the rotation block as a unit quaternion
// (Shepperd's method, numerically stable for all rotation matrices).
func quatFromMatrix(m Matrix) quat.Number {
	r00, r01, r02 := m[0], m[1], m[2]
	r10, r11, r12 := m[4], m[5], m[6]
	r20, r21, r22 := m[8], m[9], m[10]

	var q quat.Number
	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q.Real = s / 4
		q.Imag = (r21 - r12) / s
		q.Jmag = (r02 - r20) / s
		q.Kmag = (r10 - r01) / s
	case r00 > r11 && r00 > r22:
		s := math.Sqrt(1+r00-r11-r22) * 2
		q.Real = (r21 - r12) / s
		q.Imag = s / 4
		q.Jmag = (r01 + r10) / s
		q.Kmag = (r02 + r20) / s
	case r11 > r22:
		s := math.Sqrt(1+r11-r00-r22) * 2
		q.Real = (r02 - r20) / s
		q.Imag = (r01 + r10) / s
		q.Jmag = s / 4
		q.Kmag = (r12 + r21) / s
	default:
		s := math.Sqrt(1+r22-r00-r11) * 2
		q.Real = (r10 - r01) / s
		q.Imag = (r02 + r20) / s
		q.Jmag = (r12 + r21) / s
		q.Kmag = s / 4
	}
	return q
}

// matrixFromQuat builds a rigid transform from a unit quaternion and a
// translation vector.
func matrixFromQuat(q quat.Number, t [3]float64) Matrix {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Matrix{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), t[0],
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), t[1],
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), t[2],
		0, 0, 0, 1,
	}
}

// quatDot returns the four-component dot product of two quaternions.
func quatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// quatNormalize scales q to unit length. A degenerate (near-zero) input
// collapses to the identity rotation.
func quatNormalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < 1e-12 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
