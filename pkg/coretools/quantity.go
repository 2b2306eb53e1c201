package coretools

import "math"

// QuantityFormula is reported with every estimate.
const QuantityFormula = "length_ft × width_ft × (depth_in / 12) / 27"

// Estimate is the material volume for a rectangular area.
type Estimate struct {
	LengthFt   float64
	WidthFt    float64
	DepthIn    float64
	CubicFeet  float64
	CubicYards float64
}

// EstimateQuantity converts length and width in feet and depth in inches into
// cubic yards, rounded up to the next tenth.
func EstimateQuantity(lengthFt, widthFt, depthIn float64) Estimate {
	cubicFeet := lengthFt * widthFt * (depthIn / 12)
	return Estimate{
		LengthFt:   lengthFt,
		WidthFt:    widthFt,
		DepthIn:    depthIn,
		CubicFeet:  math.Round(cubicFeet*100) / 100,
		CubicYards: RoundUpTenth(cubicFeet / 27),
	}
}

// Finite reports whether both volumes are representable numbers.
func (e Estimate) Finite() bool {
	for _, v := range []float64{e.CubicFeet, e.CubicYards} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// RoundUpTenth rounds v up to one decimal place. Float noise below 1e-9 is
// discarded first so 27 ft³ stays 1.0 yd³.
func RoundUpTenth(v float64) float64 {
	scaled := math.Round(v*10*1e9) / 1e9
	return math.Ceil(scaled) / 10
}
