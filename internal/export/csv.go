// Package export renders run results as CSV.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/opensource-finance/heron/internal/domain"
)

var scoreHeader = []string{
	"customer_id",
	"recency", "frequency", "monetary_sum", "monetary_avg", "t",
	"r_score", "f_score", "m_score", "rfm_score", "segment",
	"predicted_transactions", "clv", "clv_segment",
}

// WriteScores writes the score table as CSV, one row per customer, in the
// order given.
func WriteScores(w io.Writer, scores []*domain.CustomerScore) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(scoreHeader); err != nil {
		return err
	}

	for _, s := range scores {
		record := []string{
			strconv.FormatInt(s.CustomerID, 10),
			strconv.Itoa(s.Recency),
			strconv.Itoa(s.Frequency),
			formatFloat(s.MonetarySum),
			formatFloat(s.MonetaryAvg),
			strconv.Itoa(s.T),
			strconv.Itoa(s.RScore),
			strconv.Itoa(s.FScore),
			strconv.Itoa(s.MScore),
			s.RFMScore,
			s.Segment,
			formatFloat(s.PredictedTransactions),
			formatFloat(s.CLV),
			s.CLVSegment,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
