// Package mathx holds the small set of vector-math primitives shared by the
// TF-IDF embedder and the semantic index (spec §4.3 "Cosine").
package mathx

import "math"

// Cosine returns the cosine similarity of a and b. Vectors must have the
// same dimension — a mismatch is a programmer error, not something this
// function recovers from (spec §4.3: "mismatch is a programmer error").
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		panic("mathx: cosine: dimension mismatch")
	}
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// L2Normalize scales v to unit length in place. A zero vector is left as-is.
func L2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}
