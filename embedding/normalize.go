package embedding

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Rescale returns v scaled to unit L2 norm and then to the given magnitude.
// A zero vector yields NaNs.
func Rescale(v []float64, magnitude float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	floats.Scale(magnitude/floats.Norm(out, 2), out)
	return out
}

// Perturb returns v plus independent N(0, std²) noise per component.
func Perturb(rng *rand.Rand, v []float64, std float64) []float64 {
	out := make([]float64, len(v))
	for i := range out {
		out[i] = v[i] + rng.NormFloat64()*std
	}
	return out
}

// Prepare applies Rescale then Perturb to every row of batch.
func Prepare(rng *rand.Rand, batch [][]float64, magnitude, std float64) [][]float64 {
	out := make([][]float64, len(batch))
	for i, row := range batch {
		out[i] = Perturb(rng, Rescale(row, magnitude), std)
	}
	return out
}
