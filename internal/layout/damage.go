package layout

import "math"

// DamageLikelihoodMap predicts, for a point on the page expressed as
// fractional coordinates in [0,1]x[0,1], the likelihood that physical
// damage (tearing, staining, fading) will land there. The packer uses it
// to pick a higher EC tier for cells in riskier regions.
type DamageLikelihoodMap func(x, y float64) float64

// ConstantDamageMap returns a map with the same likelihood everywhere.
func ConstantDamageMap(l float64) DamageLikelihoodMap {
	return func(x, y float64) float64 { return l }
}

// RadialDamageMap returns min likelihood at the page center, rising to max
// (and beyond, clamped to 1) toward the edges and further at the corners.
func RadialDamageMap(min, max float64) DamageLikelihoodMap {
	diff := max - min
	return func(x, y float64) float64 {
		dx := math.Abs(0.5 - x)
		dy := math.Abs(0.5 - y)
		l := min + math.Sqrt(dx*dx+dy*dy)*2.0*diff
		if l > 1.0 {
			l = 1.0
		}
		return l
	}
}

// ecForDamage maps a damage likelihood to an EC tier per the fixed
// quartile thresholds used throughout this codec.
func ecForDamage(dl float64) ECLevel {
	switch {
	case dl < 0.25:
		return ECLow
	case dl < 0.5:
		return ECMedium
	case dl < 0.75:
		return ECQuartile
	default:
		return ECHigh
	}
}
