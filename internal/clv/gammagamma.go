package clv

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
)

// GammaGamma is a fitted spend model: individual transaction values are
// gamma-distributed with shape P, and the per-customer rate parameter is
// itself gamma-distributed with shape Q and scale V.
type GammaGamma struct {
	P float64
	Q float64
	V float64
}

// FitGammaGamma fits the spend model on repeat customers only: frequency
// and monetary carry observations with frequency > 0 and a strictly
// positive average transaction value.
func FitGammaGamma(frequency, monetary []float64, penalizer float64) (*GammaGamma, error) {
	n := len(frequency)
	if n == 0 {
		return nil, &domain.InputError{Stage: "fit", Reason: "no repeat customers for spend model"}
	}

	nll := func(logParams []float64) float64 {
		p := math.Exp(logParams[0])
		q := math.Exp(logParams[1])
		v := math.Exp(logParams[2])
		if !finiteAll(p, q, v) {
			return math.Inf(1)
		}

		var sum float64
		for i := 0; i < n; i++ {
			x, m := frequency[i], monetary[i]
			ll := lgamma(p*x+q) - lgamma(p*x) - lgamma(q) +
				q*math.Log(v) +
				(p*x-1)*math.Log(m) +
				p*x*math.Log(x) -
				(p*x+q)*math.Log(x*m+v)
			sum += ll
		}

		penalty := penalizer * (p*p + q*q + v*v)
		nv := -sum/float64(n) + penalty
		if math.IsNaN(nv) {
			return math.Inf(1)
		}
		return nv
	}

	params, err := minimize(nll, 3)
	if err != nil {
		return nil, &domain.DegenerateDistributionError{
			Stage:  "fit",
			Metric: "monetary",
			Reason: "spend model did not converge: " + err.Error(),
		}
	}

	model := &GammaGamma{
		P: math.Exp(params[0]),
		Q: math.Exp(params[1]),
		V: math.Exp(params[2]),
	}
	if !finiteAll(model.P, model.Q, model.V) {
		return nil, &domain.DegenerateDistributionError{
			Stage:  "fit",
			Metric: "monetary",
			Reason: "spend model produced non-finite parameters",
		}
	}
	// The population mean v*p/(q-1) is undefined at q <= 1, which makes
	// every downstream value projection meaningless.
	if model.Q <= 1 {
		return nil, &domain.DegenerateDistributionError{
			Stage:  "fit",
			Metric: "monetary",
			Reason: "spend model shape q <= 1, population mean spend is undefined",
		}
	}
	return model, nil
}

// ConditionalExpectedAverageProfit returns the expected average transaction
// value for a customer with x observed transactions averaging m, shrinking
// the observed average toward the population mean in proportion to how
// little evidence the customer carries.
func (g *GammaGamma) ConditionalExpectedAverageProfit(x, m float64) float64 {
	popMean := g.V * g.P / (g.Q - 1)
	if x <= 0 {
		return popMean
	}
	w := g.P * x / (g.P*x + g.Q - 1)
	return (1-w)*popMean + w*m
}
