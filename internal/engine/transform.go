package engine

import "github.com/holoplane/artrack/internal/units"

// Engine-native poses are right-handed with the marker plane on XY and +Z
// toward the viewer, in millimetres. Consumers use a left-handed frame with
// -Z toward the viewer, in metres. The conversion is a fixed linear map:
// flip the Z axis (negate every rotation term with exactly one Z index, so
// m22 keeps its sign) and scale the translation by 1/1000.

const metresPerMillimetre = 1.0 / units.MillimetresPerMetre

// ToConsumerSpace converts an engine-native pose to consumer conventions.
// Pure and stateless: identical inputs produce bit-identical outputs, which
// downstream rendering depends on.
func ToConsumerSpace(m Matrix) Matrix {
	var out Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := m[4*i+j]
			if (i == 2) != (j == 2) {
				v = -v
			}
			out[4*i+j] = v
		}
	}
	out[3] *= metresPerMillimetre
	out[7] *= metresPerMillimetre
	out[11] *= metresPerMillimetre
	return out
}
