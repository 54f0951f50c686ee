// Package report renders a completed run as a markdown summary document.
package report

import (
	"io"
	"sort"
	"text/template"

	"github.com/opensource-finance/heron/internal/domain"
)

const topCustomers = 10

const reportTemplate = `# Customer Value Analysis

- **Run:** {{.Run.ID}}
- **Analysis date:** {{.Run.AnalysisDate.Format "2006-01-02"}}
- **Customers:** {{.Run.CustomerCount}}
- **Transactions:** {{.Run.TransactionCount}}
{{- if .Run.ModelParams}}
- **Frequency model:** r={{printf "%.4f" .Run.ModelParams.R}}, alpha={{printf "%.4f" .Run.ModelParams.Alpha}}, a={{printf "%.4f" .Run.ModelParams.A}}, b={{printf "%.4f" .Run.ModelParams.B}}
- **Spend model:** p={{printf "%.4f" .Run.ModelParams.P}}, q={{printf "%.4f" .Run.ModelParams.Q}}, v={{printf "%.4f" .Run.ModelParams.V}}
{{- end}}

## Segment Distribution

| Segment | Customers |
|---|---|
{{- range .Segments}}
| {{.Label}} | {{.Count}} |
{{- end}}

## Value Tiers

| Tier | Customers | Mean CLV | Min CLV | Max CLV | Total CLV | % of Total |
|---|---|---|---|---|---|---|
{{- range .Summary}}
| {{.Segment}} | {{.Count}} | {{printf "%.2f" .MeanCLV}} | {{printf "%.2f" .MinCLV}} | {{printf "%.2f" .MaxCLV}} | {{printf "%.2f" .SumCLV}} | {{printf "%.1f" .PercentOfTotal}}% |
{{- end}}

## Top Customers by Predicted Value

| Customer | Segment | RFM | Predicted Txns | CLV |
|---|---|---|---|---|
{{- range .Top}}
| {{.CustomerID}} | {{.Segment}} | {{.RFMScore}} | {{printf "%.2f" .PredictedTransactions}} | {{printf "%.2f" .CLV}} |
{{- end}}
`

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

type segmentCount struct {
	Label string
	Count int
}

type reportData struct {
	Run      *domain.AnalysisRun
	Segments []segmentCount
	Summary  []domain.CLVSummaryRow
	Top      []*domain.CustomerScore
}

// Write renders the markdown report for a completed run.
func Write(w io.Writer, run *domain.AnalysisRun, scores []*domain.CustomerScore, summary []domain.CLVSummaryRow) error {
	counts := make(map[string]int)
	for _, s := range scores {
		counts[s.Segment]++
	}
	segments := make([]segmentCount, 0, len(counts))
	for label, count := range counts {
		segments = append(segments, segmentCount{Label: label, Count: count})
	}
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Count != segments[j].Count {
			return segments[i].Count > segments[j].Count
		}
		return segments[i].Label < segments[j].Label
	})

	top := make([]*domain.CustomerScore, len(scores))
	copy(top, scores)
	sort.Slice(top, func(i, j int) bool {
		if top[i].CLV != top[j].CLV {
			return top[i].CLV > top[j].CLV
		}
		return top[i].CustomerID < top[j].CustomerID
	})
	if len(top) > topCustomers {
		top = top[:topCustomers]
	}

	return tmpl.Execute(w, reportData{
		Run:      run,
		Segments: segments,
		Summary:  summary,
		Top:      top,
	})
}
