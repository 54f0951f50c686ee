package domain

// CustomerScore is the per-customer result row of an analysis run. It
// carries the RFM metrics and scores plus the CLV projection, and is the
// terminal artifact of the pipeline.
type CustomerScore struct {
	CustomerID int64 `json:"customerId"`

	// RFM metrics. Recency and T are whole days relative to the run's
	// analysis date; T >= Recency >= 0 always holds.
	Recency     int     `json:"recency"`
	Frequency   int     `json:"frequency"`
	MonetarySum float64 `json:"monetarySum"`
	MonetaryAvg float64 `json:"monetaryAvg"`
	T           int     `json:"t"`

	// Ordinal scores (1-4) and the composite digit string, e.g. "443".
	RScore   int    `json:"rScore"`
	FScore   int    `json:"fScore"`
	MScore   int    `json:"mScore"`
	RFMScore string `json:"rfmScore"`

	// Named behavioral segment, exactly one per customer.
	Segment string `json:"segment"`

	// CLV projection over the configured horizon.
	PredictedTransactions float64 `json:"predictedTransactions"`
	CLV                   float64 `json:"clv"`
	CLVSegment            string  `json:"clvSegment"`
}

// Behavioral segment labels assigned by the priority ladder.
const (
	SegmentBest    = "Best Customers"
	SegmentRecent  = "Recent Customers"
	SegmentLoyal   = "Loyal Customers"
	SegmentSpender = "Big Spenders"
	SegmentLost    = "Lost Customers"
	SegmentAverage = "Average Customers"
)

// Value tier labels assigned by quartiles of predicted CLV.
const (
	CLVSegmentLow    = "Low Value"
	CLVSegmentMedium = "Medium Value"
	CLVSegmentHigh   = "High Value"
	CLVSegmentTop    = "Top Value"
)

// CLVSegmentLabels lists the value tiers in ascending order.
var CLVSegmentLabels = []string{CLVSegmentLow, CLVSegmentMedium, CLVSegmentHigh, CLVSegmentTop}

// CLVSummaryRow aggregates one value tier of a completed run.
type CLVSummaryRow struct {
	Segment        string  `json:"segment"`
	Count          int     `json:"count"`
	MeanCLV        float64 `json:"meanClv"`
	MinCLV         float64 `json:"minClv"`
	MaxCLV         float64 `json:"maxClv"`
	SumCLV         float64 `json:"sumClv"`
	MeanFrequency  float64 `json:"meanFrequency"`
	MeanMonetary   float64 `json:"meanMonetaryAvg"`
	PercentOfTotal float64 `json:"percentOfTotal"`
}
