// Package units provides shared constants and conversions for length units.
package units

// Unit constants
const (
	Millimetres = "mm"
	Centimetres = "cm"
	Metres      = "m"
)

// MillimetresPerMetre is the fixed scale between engine-native units and
// consumer units. Marker widths, multimarker offsets and raw poses are all
// expressed in millimetres; consumers work in metres.
const MillimetresPerMetre = 1000.0

// ValidUnits contains all valid unit values.
var ValidUnits = []string{Millimetres, Centimetres, Metres}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// MetresFromMillimetres converts a length in millimetres to metres.
func MetresFromMillimetres(mm float64) float64 {
	return mm / MillimetresPerMetre
}

// MillimetresFromMetres converts a length in metres to millimetres.
func MillimetresFromMetres(m float64) float64 {
	return m * MillimetresPerMetre
}

// ConvertLength converts a length in millimetres to the target units.
// Trackable configuration strings store lengths in millimetres.
func ConvertLength(lengthMM float64, targetUnits string) float64 {
	switch targetUnits {
	case Metres:
		return lengthMM / MillimetresPerMetre
	case Centimetres:
		return lengthMM / 10.0
	case Millimetres:
		return lengthMM
	default:
		return lengthMM // default to millimetres if unknown unit
	}
}
