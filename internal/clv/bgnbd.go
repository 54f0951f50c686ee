package clv

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
	"gonum.org/v1/gonum/optimize"
)

// BGNBD is a fitted beta-geometric / negative-binomial purchase-frequency
// model. Purchases arrive at a gamma-distributed rate (shape R, scale
// 1/Alpha) and customers drop out after any purchase with a
// beta-distributed probability (shapes A, B).
type BGNBD struct {
	R     float64
	Alpha float64
	A     float64
	B     float64
}

// FitBGNBD fits the purchase-frequency model on (frequency, recency, T) by
// maximum penalized likelihood. The optimization runs over log-parameters
// so the rate and shape parameters stay strictly positive, with the
// penalizer applied to the squared natural parameters.
func FitBGNBD(frequency, recency, tenure []float64, penalizer float64) (*BGNBD, error) {
	n := len(frequency)
	if n == 0 {
		return nil, &domain.InputError{Stage: "fit", Reason: "no observations for frequency model"}
	}

	nll := func(logParams []float64) float64 {
		r := math.Exp(logParams[0])
		alpha := math.Exp(logParams[1])
		a := math.Exp(logParams[2])
		b := math.Exp(logParams[3])
		if !finiteAll(r, alpha, a, b) {
			return math.Inf(1)
		}

		var sum float64
		for i := 0; i < n; i++ {
			x, tx, t := frequency[i], recency[i], tenure[i]

			a1 := lgamma(r+x) - lgamma(r) + r*math.Log(alpha)
			a2 := lgamma(a+b) + lgamma(b+x) - lgamma(b) - lgamma(a+b+x)
			a3 := -(r + x) * math.Log(alpha+t)

			var ll float64
			if x > 0 {
				a4 := math.Log(a) - math.Log(b+x-1) - (r+x)*math.Log(alpha+tx)
				m := math.Max(a3, a4)
				ll = a1 + a2 + m + math.Log(math.Exp(a3-m)+math.Exp(a4-m))
			} else {
				ll = a1 + a2 + a3
			}
			sum += ll
		}

		penalty := penalizer * (r*r + alpha*alpha + a*a + b*b)
		nv := -sum/float64(n) + penalty
		if math.IsNaN(nv) {
			return math.Inf(1)
		}
		return nv
	}

	params, err := minimize(nll, 4)
	if err != nil {
		return nil, &domain.DegenerateDistributionError{
			Stage:  "fit",
			Metric: "frequency",
			Reason: "purchase-frequency model did not converge: " + err.Error(),
		}
	}

	model := &BGNBD{
		R:     math.Exp(params[0]),
		Alpha: math.Exp(params[1]),
		A:     math.Exp(params[2]),
		B:     math.Exp(params[3]),
	}
	if !finiteAll(model.R, model.Alpha, model.A, model.B) {
		return nil, &domain.DegenerateDistributionError{
			Stage:  "fit",
			Metric: "frequency",
			Reason: "purchase-frequency model produced non-finite parameters",
		}
	}
	return model, nil
}

// ExpectedTransactions returns the conditional expected number of
// transactions a customer with history (x, tx, T) makes in the next t time
// units.
func (m *BGNBD) ExpectedTransactions(t, x, tx, tenure float64) float64 {
	if t <= 0 {
		return 0
	}

	r, alpha, a, b := m.R, m.Alpha, m.A, m.B

	hyp := hyp2f1(r+x, b+x, a+b+x-1, t/(alpha+tenure+t))
	first := (a + b + x - 1) / (a - 1)
	second := 1 - hyp*math.Pow((alpha+tenure)/(alpha+tenure+t), r+x)
	numerator := first * second

	denominator := 1.0
	if x > 0 {
		denominator += (a / (b + x - 1)) * math.Pow((alpha+tenure)/(alpha+tx), r+x)
	}

	expected := numerator / denominator
	if expected < 0 || !finiteAll(expected) {
		return 0
	}
	return expected
}

// minimize runs Nelder-Mead from the conventional 0.1 starting point in
// natural space and reports any solver failure.
func minimize(f func([]float64) float64, dims int) ([]float64, error) {
	x0 := make([]float64, dims)
	for i := range x0 {
		x0[i] = math.Log(0.1)
	}

	problem := optimize.Problem{Func: f}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, err
	}
	if err := result.Status.Err(); err != nil {
		return nil, err
	}
	if math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return nil, errNonFinite
	}
	return result.X, nil
}

var errNonFinite = errNonFiniteType{}

type errNonFiniteType struct{}

func (errNonFiniteType) Error() string { return "objective did not reach a finite value" }

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

func finiteAll(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
