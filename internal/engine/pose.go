package engine

import "math"

// MatrixValidationTolerance is the tolerance for checking rotation matrix
// validity.
const MatrixValidationTolerance = 0.01

// IsValidTransform checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
//  1. Orthonormal rotation submatrix (det ≈ 1)
//  2. Last row [0 0 0 1]
func IsValidTransform(m Matrix) bool {
	r00, r01, r02 := m[0], m[1], m[2]
	r10, r11, r12 := m[4], m[5], m[6]
	r20, r21, r22 := m[8], m[9], m[10]

	// Check determinant ≈ 1 (proper rotation, not reflection)
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1.0) > 0.001 {
		return false
	}

	return true
}
