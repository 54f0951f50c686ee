// Package cohort provides acquisition cohort retention analysis.
package cohort

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Row is one acquisition cohort: all customers whose first purchase fell in
// the same calendar month, with the share still purchasing in each later
// month.
type Row struct {
	// Month is the acquisition month in "2006-01" form.
	Month string `json:"month"`

	// Customers is the cohort size.
	Customers int `json:"customers"`

	// Retention[k] is the fraction of the cohort active k months after
	// acquisition; Retention[0] is always 1.
	Retention []float64 `json:"retention"`
}

// Service computes cohort retention from the transaction history.
type Service struct {
	repo domain.Repository
}

// NewService creates a new cohort service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Retention builds the monthly retention matrix for a tenant. Months with
// no acquisitions are absent from the result.
func (s *Service) Retention(ctx context.Context, tenantID string) ([]Row, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	transactions, err := s.repo.ListTransactions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(transactions) == 0 {
		return nil, nil
	}

	// First purchase month per customer, and the set of active months.
	firstMonth := make(map[int64]time.Time)
	active := make(map[int64]map[time.Time]bool)
	var lastMonth time.Time
	for _, tx := range transactions {
		month := monthOf(tx.Date)
		if first, ok := firstMonth[tx.CustomerID]; !ok || month.Before(first) {
			firstMonth[tx.CustomerID] = month
		}
		if active[tx.CustomerID] == nil {
			active[tx.CustomerID] = make(map[time.Time]bool)
		}
		active[tx.CustomerID][month] = true
		if month.After(lastMonth) {
			lastMonth = month
		}
	}

	// Group customers by acquisition month.
	cohorts := make(map[time.Time][]int64)
	for customerID, month := range firstMonth {
		cohorts[month] = append(cohorts[month], customerID)
	}

	months := make([]time.Time, 0, len(cohorts))
	for month := range cohorts {
		months = append(months, month)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	rows := make([]Row, 0, len(months))
	for _, month := range months {
		members := cohorts[month]
		span := monthsBetween(month, lastMonth) + 1

		retention := make([]float64, span)
		for offset := 0; offset < span; offset++ {
			target := month.AddDate(0, offset, 0)
			activeCount := 0
			for _, customerID := range members {
				if active[customerID][target] {
					activeCount++
				}
			}
			retention[offset] = float64(activeCount) / float64(len(members))
		}

		rows = append(rows, Row{
			Month:     month.Format("2006-01"),
			Customers: len(members),
			Retention: retention,
		})
	}

	return rows, nil
}

func monthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
