package operator

import (
	"math"
	"math/rand"
)

// closedUniform returns a random value in the range [0, 1],
// including 1.
func closedUniform(rng *rand.Rand) float64 {
	// 1.0 is not included and we would like to be symmetric
	r := float64(1)
	for r > 0.999 {
		r = rng.Float64()
	}
	return r / 0.999
}

// reflect folds x back into [min, max]. Both bounds can be infinite.
func reflect(x, min, max float64) float64 {
	if math.IsInf(min, -1) && math.IsInf(max, 1) {
		return x
	}
	if !math.IsInf(min, -1) && !math.IsInf(max, 1) {
		// same as reflecting repeatedly at both ends
		w := max - min
		if w == 0 {
			return min
		}
		y := math.Mod(x-min, 2*w)
		if y < 0 {
			y += 2 * w
		}
		if y > w {
			y = 2*w - y
		}
		return min + y
	}
	if x < min {
		return min + (min - x)
	}
	if x > max {
		return max - (x - max)
	}
	return x
}
