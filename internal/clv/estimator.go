// Package clv estimates customer lifetime value from RFM observations
// using a beta-geometric/NBD purchase-frequency model combined with a
// gamma-gamma spend model.
package clv

import (
	"log/slog"
	"math"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/stats"
)

const periodDays = 30

type state int

const (
	stateUnfit state = iota
	stateFitted
	statePredicted
)

// Estimator runs the two-stage lifetime-value workflow: Fit trains both
// models, Predict projects per-customer transactions and discounted value,
// and AssignValueSegments tiers customers by predicted value. The methods
// must be called in that order.
type Estimator struct {
	cfg    domain.AnalysisConfig
	state  state
	bgnbd  *BGNBD
	spend  *GammaGamma
	logger *slog.Logger
}

// NewEstimator returns an unfit estimator configured with the penalizer
// coefficient, projection horizon and discount rate.
func NewEstimator(cfg domain.AnalysisConfig) *Estimator {
	return &Estimator{
		cfg:    cfg,
		logger: slog.Default().With("component", "clv"),
	}
}

// Fit trains the frequency model on all customers and the spend model on
// repeat customers. Scores with fewer than two distinct frequency values
// cannot identify the frequency model and are rejected as degenerate.
func (e *Estimator) Fit(scores []*domain.CustomerScore) error {
	if len(scores) == 0 {
		return &domain.InputError{Stage: "fit", Reason: "no customer scores to fit"}
	}

	frequency := make([]float64, len(scores))
	recency := make([]float64, len(scores))
	tenure := make([]float64, len(scores))
	for i, s := range scores {
		frequency[i] = float64(s.Frequency)
		recency[i] = float64(s.Recency)
		tenure[i] = float64(s.T)
	}

	if distinct := stats.DistinctCount(frequency); distinct < 2 {
		return &domain.DegenerateDistributionError{
			Stage:    "fit",
			Metric:   "frequency",
			Distinct: distinct,
			Reason:   "all customers share one frequency value",
		}
	}

	bgnbd, err := FitBGNBD(frequency, recency, tenure, e.cfg.PenalizerCoef)
	if err != nil {
		return err
	}

	var repeatFreq, repeatMonetary []float64
	for _, s := range scores {
		if s.Frequency > 0 && s.MonetaryAvg > 0 {
			repeatFreq = append(repeatFreq, float64(s.Frequency))
			repeatMonetary = append(repeatMonetary, s.MonetaryAvg)
		}
	}
	spend, err := FitGammaGamma(repeatFreq, repeatMonetary, e.cfg.PenalizerCoef)
	if err != nil {
		return err
	}

	e.bgnbd = bgnbd
	e.spend = spend
	e.state = stateFitted
	e.logger.Debug("models fitted",
		"customers", len(scores),
		"repeat_customers", len(repeatFreq),
		"r", bgnbd.R, "alpha", bgnbd.Alpha, "a", bgnbd.A, "b", bgnbd.B,
		"p", spend.P, "q", spend.Q, "v", spend.V)
	return nil
}

// Predict fills PredictedTransactions and CLV on every score in place.
// Lifetime value is the sum of expected spend per 30-day period over the
// projection horizon, discounted per period.
func (e *Estimator) Predict(scores []*domain.CustomerScore) error {
	if e.state < stateFitted {
		return &domain.SequencingError{Op: "predict", Requires: "fit"}
	}

	horizonDays := float64(e.cfg.ProjectionPeriods * periodDays)
	for _, s := range scores {
		x := float64(s.Frequency)
		tx := float64(s.Recency)
		t := float64(s.T)

		s.PredictedTransactions = e.bgnbd.ExpectedTransactions(horizonDays, x, tx, t)

		avgProfit := e.spend.ConditionalExpectedAverageProfit(x, s.MonetaryAvg)

		var clv float64
		prev := 0.0
		for k := 1; k <= e.cfg.ProjectionPeriods; k++ {
			expected := e.bgnbd.ExpectedTransactions(float64(k*periodDays), x, tx, t)
			increment := expected - prev
			prev = expected
			clv += avgProfit * increment / math.Pow(1+e.cfg.DiscountRate, float64(k))
		}
		if clv < 0 {
			clv = 0
		}
		s.CLV = clv
	}

	e.state = statePredicted
	return nil
}

// AssignValueSegments tiers customers into value quartiles of predicted
// lifetime value, lowest tier first. Fewer than four distinct values or
// collapsed quartile edges are rejected as degenerate.
func (e *Estimator) AssignValueSegments(scores []*domain.CustomerScore) error {
	if e.state < statePredicted {
		return &domain.SequencingError{Op: "assign value segments", Requires: "predict"}
	}

	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = s.CLV
	}
	edges, distinct, ok := stats.QuartileEdges(values)
	if !ok {
		return &domain.DegenerateDistributionError{
			Stage:    "segment",
			Metric:   "clv",
			Distinct: distinct,
			Reason:   "lifetime values do not span four distinct quartiles",
		}
	}

	for _, s := range scores {
		s.CLVSegment = domain.CLVSegmentLabels[stats.Bin(edges, s.CLV)-1]
	}
	return nil
}

// Summarize aggregates scores per value tier: headcount, value statistics
// and the tier's share of total predicted value. Tiers are reported from
// highest to lowest value. It operates on any scored set, including rows
// reloaded from storage.
func Summarize(scores []*domain.CustomerScore) []domain.CLVSummaryRow {
	byTier := make(map[string][]*domain.CustomerScore)
	var total float64
	for _, s := range scores {
		byTier[s.CLVSegment] = append(byTier[s.CLVSegment], s)
		total += s.CLV
	}

	rows := make([]domain.CLVSummaryRow, 0, len(domain.CLVSegmentLabels))
	for i := len(domain.CLVSegmentLabels) - 1; i >= 0; i-- {
		label := domain.CLVSegmentLabels[i]
		members := byTier[label]
		if len(members) == 0 {
			continue
		}

		row := domain.CLVSummaryRow{
			Segment: label,
			Count:   len(members),
			MinCLV:  math.Inf(1),
			MaxCLV:  math.Inf(-1),
		}
		var freqSum, monetarySum float64
		for _, s := range members {
			row.SumCLV += s.CLV
			row.MinCLV = math.Min(row.MinCLV, s.CLV)
			row.MaxCLV = math.Max(row.MaxCLV, s.CLV)
			freqSum += float64(s.Frequency)
			monetarySum += s.MonetaryAvg
		}
		row.MeanCLV = row.SumCLV / float64(len(members))
		row.MeanFrequency = freqSum / float64(len(members))
		row.MeanMonetary = monetarySum / float64(len(members))
		if total > 0 {
			row.PercentOfTotal = 100 * row.SumCLV / total
		}
		rows = append(rows, row)
	}
	return rows
}

// Params reports the fitted model parameters, or nil before Fit.
func (e *Estimator) Params() *domain.ModelParams {
	if e.state < stateFitted {
		return nil
	}
	return &domain.ModelParams{
		R:     e.bgnbd.R,
		Alpha: e.bgnbd.Alpha,
		A:     e.bgnbd.A,
		B:     e.bgnbd.B,
		P:     e.spend.P,
		Q:     e.spend.Q,
		V:     e.spend.V,
	}
}
