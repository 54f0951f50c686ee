package clv

import (
	"math"
)

// hyp2f1 evaluates the Gaussian hypergeometric function 2F1(a, b; c; z) by
// direct series summation. The BG/NBD prediction formula only needs
// z = t/(alpha+T+t) which lies in [0, 1), where the series converges.
func hyp2f1(a, b, c, z float64) float64 {
	if z == 0 {
		return 1
	}

	const (
		maxTerms = 10000
		tol      = 1e-12
	)

	term := 1.0
	sum := 1.0
	for n := 0; n < maxTerms; n++ {
		fn := float64(n)
		term *= (a + fn) * (b + fn) / ((c + fn) * (fn + 1)) * z
		sum += term
		if math.Abs(term) < tol*math.Abs(sum) {
			break
		}
	}
	return sum
}
