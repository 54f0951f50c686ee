package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func testRun() *domain.AnalysisRun {
	return &domain.AnalysisRun{
		ID:               "run-001",
		TenantID:         "tenant-001",
		Status:           domain.RunCompleted,
		AnalysisDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		CustomerCount:    3,
		TransactionCount: 6,
		ModelParams: &domain.ModelParams{
			R: 0.2434, Alpha: 4.4136, A: 0.7930, B: 2.4260,
			P: 6.25, Q: 3.74, V: 15.44,
		},
	}
}

func testScores() []*domain.CustomerScore {
	return []*domain.CustomerScore{
		{CustomerID: 1, Segment: "Average", RFMScore: "232", PredictedTransactions: 1.2, CLV: 840},
		{CustomerID: 2, Segment: "Lost Cheap", RFMScore: "111", PredictedTransactions: 0.1, CLV: 12},
		{CustomerID: 3, Segment: "Best", RFMScore: "444", PredictedTransactions: 3.5, CLV: 2100},
	}
}

func TestWrite(t *testing.T) {
	summary := []domain.CLVSummaryRow{
		{Segment: "Top", Count: 1, MeanCLV: 2100, MinCLV: 2100, MaxCLV: 2100, SumCLV: 2100, PercentOfTotal: 71.1},
		{Segment: "High", Count: 1, MeanCLV: 840, MinCLV: 840, MaxCLV: 840, SumCLV: 840, PercentOfTotal: 28.5},
		{Segment: "Low", Count: 1, MeanCLV: 12, MinCLV: 12, MaxCLV: 12, SumCLV: 12, PercentOfTotal: 0.4},
	}

	var buf bytes.Buffer
	if err := Write(&buf, testRun(), testScores(), summary); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Customer Value Analysis",
		"run-001",
		"2024-03-01",
		"**Customers:** 3",
		"**Transactions:** 6",
		"r=0.2434",
		"q=3.7400",
		"## Segment Distribution",
		"| Average | 1 |",
		"| Best | 1 |",
		"## Value Tiers",
		"| Top | 1 | 2100.00 |",
		"71.1%",
		"## Top Customers by Predicted Value",
		"| 3 | Best | 444 | 3.50 | 2100.00 |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}

	// Top customers sorted by CLV descending
	if strings.Index(out, "| 3 | Best") > strings.Index(out, "| 1 | Average") {
		t.Error("expected customer 3 listed before customer 1")
	}
}

func TestWriteNoModelParams(t *testing.T) {
	run := testRun()
	run.ModelParams = nil

	var buf bytes.Buffer
	if err := Write(&buf, run, testScores(), nil); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "Frequency model") {
		t.Error("expected model parameter lines to be omitted")
	}
	if !strings.Contains(out, "## Segment Distribution") {
		t.Error("expected segment section to remain")
	}
}

func TestWriteTopCustomersCapped(t *testing.T) {
	scores := make([]*domain.CustomerScore, 25)
	for i := range scores {
		scores[i] = &domain.CustomerScore{
			CustomerID: int64(i + 1),
			Segment:    "Average",
			RFMScore:   "222",
			CLV:        float64(i * 10),
		}
	}

	var buf bytes.Buffer
	if err := Write(&buf, testRun(), scores, nil); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := buf.String()

	_, topSection, _ := strings.Cut(out, "## Top Customers")
	rows := 0
	for _, line := range strings.Split(topSection, "\n") {
		if strings.HasPrefix(line, "| ") && !strings.HasPrefix(line, "| Customer") && !strings.HasPrefix(line, "|---") {
			rows++
		}
	}
	if rows != 10 {
		t.Errorf("expected 10 top customer rows, got %d", rows)
	}

	// Highest CLV customer (25, CLV 240) must be listed; lowest must not.
	if !strings.Contains(topSection, "| 25 |") {
		t.Error("expected customer 25 in top list")
	}
	if strings.Contains(topSection, "| 1 |") {
		t.Error("did not expect customer 1 in top list")
	}
}
