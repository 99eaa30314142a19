package cache

import "gonum.org/v1/gonum/floats"

// Cosine returns the cosine similarity of a and b. The second result is false
// when the similarity is undefined: empty or mismatched lengths, or a zero norm.
func Cosine(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, false
	}
	return floats.Dot(a, b) / (na * nb), true
}
