// Package datagen produces synthetic purchase histories for demos and
// load testing. Output is reproducible for a given seed.
package datagen

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/heron/internal/domain"
)

// Config controls the shape of the generated population.
type Config struct {
	// Customers is the number of distinct customers.
	Customers int

	// Seed makes the output reproducible.
	Seed uint64

	// Start is the beginning of the observation window.
	Start time.Time

	// WindowDays is the length of the observation window.
	WindowDays int

	// MeanTransactions is the expected purchase count per customer.
	MeanTransactions float64

	// MeanGapDays is the expected gap between consecutive purchases.
	MeanGapDays float64
}

// DefaultConfig returns generation defaults for a two-year window.
func DefaultConfig() Config {
	return Config{
		Customers:        1000,
		Seed:             42,
		Start:            time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowDays:       730,
		MeanTransactions: 5,
		MeanGapDays:      30,
	}
}

// spendProfile is a customer spending band with log-normal purchase
// amounts.
type spendProfile struct {
	name   string
	weight float64
	mu     float64 // log-scale location
	sigma  float64 // log-scale spread
}

var profiles = []spendProfile{
	{name: "budget", weight: 0.5, mu: 3.0, sigma: 0.5},    // median ~ 20
	{name: "standard", weight: 0.35, mu: 4.0, sigma: 0.6}, // median ~ 55
	{name: "premium", weight: 0.15, mu: 5.2, sigma: 0.7},  // median ~ 180
}

var categories = []string{"grocery", "apparel", "electronics", "home", "leisure"}

// Generate produces the synthetic transaction set. Purchase counts are
// Poisson, inter-purchase gaps are exponential and amounts are log-normal
// per spending band.
func Generate(cfg Config) []*domain.Transaction {
	if cfg.Customers <= 0 {
		cfg.Customers = 1000
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 730
	}
	if cfg.MeanTransactions <= 0 {
		cfg.MeanTransactions = 5
	}
	if cfg.MeanGapDays <= 0 {
		cfg.MeanGapDays = 30
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed)
	rng := rand.New(src)

	counts := distuv.Poisson{Lambda: cfg.MeanTransactions, Src: src}
	gaps := distuv.Exponential{Rate: 1 / cfg.MeanGapDays, Src: src}

	amounts := make([]distuv.LogNormal, len(profiles))
	for i, p := range profiles {
		amounts[i] = distuv.LogNormal{Mu: p.mu, Sigma: p.sigma, Src: src}
	}

	windowEnd := cfg.Start.AddDate(0, 0, cfg.WindowDays)

	var transactions []*domain.Transaction
	for customerID := int64(1); customerID <= int64(cfg.Customers); customerID++ {
		profile := pickProfile(rng)

		n := int(counts.Rand())
		if n == 0 {
			// Every customer has at least one purchase; zero-purchase
			// customers never enter the transaction log at all.
			n = 1
		}

		// First purchase lands uniformly in the first half of the window
		// so every customer can accumulate history.
		offset := rng.Float64() * float64(cfg.WindowDays) / 2
		current := cfg.Start.Add(time.Duration(offset * 24 * float64(time.Hour)))

		for i := 0; i < n; i++ {
			if current.After(windowEnd) {
				break
			}

			amount := amounts[profile].Rand()
			if amount < 0.01 {
				amount = 0.01
			}

			transactions = append(transactions, &domain.Transaction{
				CustomerID: customerID,
				Amount:     amount,
				Category:   categories[rng.IntN(len(categories))],
				Date:       current,
				CreatedAt:  current,
			})

			gapDays := gaps.Rand()
			current = current.Add(time.Duration(gapDays * 24 * float64(time.Hour)))
		}
	}

	return transactions
}

func pickProfile(rng *rand.Rand) int {
	roll := rng.Float64()
	acc := 0.0
	for i, p := range profiles {
		acc += p.weight
		if roll < acc {
			return i
		}
	}
	return len(profiles) - 1
}
