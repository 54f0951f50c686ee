// Package rfm implements the RFM (Recency, Frequency, Monetary) engine:
// per-customer metric aggregation, ordinal scoring and segment assignment.
package rfm

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/stats"
)

// Engine computes RFM metrics and scores for a customer population.
type Engine struct {
	// UseQuartiles selects data-dependent quartile scoring; when false the
	// fixed break tables are applied instead.
	UseQuartiles bool
}

// NewEngine creates an RFM engine from the analysis configuration.
func NewEngine(cfg domain.AnalysisConfig) *Engine {
	return &Engine{UseQuartiles: cfg.UseQuartiles}
}

// Calculate aggregates transactions into one CustomerScore per customer.
// When analysisDate is zero it defaults to the most recent transaction date
// plus one day, which guarantees recency >= 0 for every customer.
func (e *Engine) Calculate(transactions []*domain.Transaction, analysisDate time.Time) ([]*domain.CustomerScore, time.Time, error) {
	if len(transactions) == 0 {
		return nil, time.Time{}, &domain.InputError{Stage: "rfm", Reason: "transaction set is empty"}
	}

	for _, tx := range transactions {
		if tx.Amount <= 0 {
			return nil, time.Time{}, &domain.InputError{
				Stage:  "rfm",
				Reason: fmt.Sprintf("customer %d has non-positive amount %.2f", tx.CustomerID, tx.Amount),
			}
		}
	}

	if analysisDate.IsZero() {
		var maxDate time.Time
		for _, tx := range transactions {
			if tx.Date.After(maxDate) {
				maxDate = tx.Date
			}
		}
		analysisDate = maxDate.Add(24 * time.Hour)
	}

	type agg struct {
		first time.Time
		last  time.Time
		count int
		sum   float64
	}

	groups := make(map[int64]*agg)
	for _, tx := range transactions {
		g, ok := groups[tx.CustomerID]
		if !ok {
			groups[tx.CustomerID] = &agg{first: tx.Date, last: tx.Date, count: 1, sum: tx.Amount}
			continue
		}
		if tx.Date.Before(g.first) {
			g.first = tx.Date
		}
		if tx.Date.After(g.last) {
			g.last = tx.Date
		}
		g.count++
		g.sum += tx.Amount
	}

	scores := make([]*domain.CustomerScore, 0, len(groups))
	for id, g := range groups {
		recency := wholeDays(g.last, analysisDate)
		tenure := wholeDays(g.first, analysisDate)
		if recency < 0 {
			return nil, time.Time{}, &domain.InputError{
				Stage:  "rfm",
				Reason: fmt.Sprintf("customer %d has transactions after the analysis date", id),
			}
		}
		scores = append(scores, &domain.CustomerScore{
			CustomerID:  id,
			Recency:     recency,
			Frequency:   g.count,
			MonetarySum: g.sum,
			MonetaryAvg: g.sum / float64(g.count),
			T:           tenure,
		})
	}

	// Deterministic output order regardless of map iteration.
	sort.Slice(scores, func(i, j int) bool { return scores[i].CustomerID < scores[j].CustomerID })

	slog.Debug("rfm metrics calculated",
		"customers", len(scores),
		"transactions", len(transactions),
		"analysis_date", analysisDate.Format(time.DateOnly),
	)

	return scores, analysisDate, nil
}

// Fixed break tables for dataset-independent scoring. Recency bins map to
// descending scores since a lower recency is better.
var (
	recencyBreaks   = []float64{0, 7, 30, 90}
	recencyScores   = []int{4, 3, 2, 1}
	frequencyBreaks = []float64{0, 2, 5, 10}
	monetaryBreaks  = []float64{0, 100, 250, 500}
)

// AddScores assigns R, F and M scores (1-4) and the composite RFMScore
// digit string to every record, in place.
func (e *Engine) AddScores(scores []*domain.CustomerScore) error {
	if len(scores) == 0 {
		return &domain.InputError{Stage: "score", Reason: "no customer records to score"}
	}

	if e.UseQuartiles {
		if err := e.addQuartileScores(scores); err != nil {
			return err
		}
	} else {
		for _, s := range scores {
			s.RScore = recencyScores[stats.FixedBin(recencyBreaks, float64(s.Recency))-1]
			s.FScore = stats.FixedBin(frequencyBreaks, float64(s.Frequency))
			s.MScore = stats.FixedBin(monetaryBreaks, s.MonetaryAvg)
		}
	}

	for _, s := range scores {
		s.RFMScore = fmt.Sprintf("%d%d%d", s.RScore, s.FScore, s.MScore)
	}
	return nil
}

func (e *Engine) addQuartileScores(scores []*domain.CustomerScore) error {
	recency := make([]float64, len(scores))
	frequency := make([]float64, len(scores))
	monetary := make([]float64, len(scores))
	for i, s := range scores {
		recency[i] = float64(s.Recency)
		frequency[i] = float64(s.Frequency)
		monetary[i] = s.MonetaryAvg
	}

	rEdges, distinct, ok := stats.QuartileEdges(recency)
	if !ok {
		return &domain.DegenerateDistributionError{Stage: "score", Metric: "recency", Distinct: distinct}
	}
	fEdges, distinct, ok := stats.QuartileEdges(frequency)
	if !ok {
		return &domain.DegenerateDistributionError{Stage: "score", Metric: "frequency", Distinct: distinct}
	}
	mEdges, distinct, ok := stats.QuartileEdges(monetary)
	if !ok {
		return &domain.DegenerateDistributionError{Stage: "score", Metric: "monetary_avg", Distinct: distinct}
	}

	for _, s := range scores {
		// Low recency is best, so the recency bin is inverted.
		s.RScore = 5 - stats.Bin(rEdges, float64(s.Recency))
		s.FScore = stats.Bin(fEdges, float64(s.Frequency))
		s.MScore = stats.Bin(mEdges, s.MonetaryAvg)
	}
	return nil
}

// wholeDays returns the number of whole days between from and to.
func wholeDays(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
