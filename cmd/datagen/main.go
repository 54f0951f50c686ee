// Datagen produces a synthetic purchase history for exercising Heron.
//
// Usage:
//   go run cmd/datagen/main.go -customers 1000 -out transactions.csv
//   go run cmd/datagen/main.go -customers 1000 -url http://localhost:8080 -tenant demo
//
// Output goes to a CSV file, or straight into a running Heron instance
// via the batch ingest endpoint when -url is set.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/opensource-finance/heron/internal/datagen"
	"github.com/opensource-finance/heron/internal/domain"
)

const batchSize = 500

func main() {
	customers := flag.Int("customers", 1000, "Number of customers to generate")
	seed := flag.Uint64("seed", 42, "Random seed for reproducible output")
	windowDays := flag.Int("window", 730, "Observation window in days")
	start := flag.String("start", "2023-01-01", "Window start date (YYYY-MM-DD)")
	outPath := flag.String("out", "", "CSV output path (default stdout)")
	baseURL := flag.String("url", "", "Heron base URL; when set, POST the data instead of writing CSV")
	tenantID := flag.String("tenant", "demo", "Tenant ID for ingest requests")
	flag.Parse()

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		fmt.Printf("ERROR: invalid -start date: %v\n", err)
		os.Exit(1)
	}

	cfg := datagen.DefaultConfig()
	cfg.Customers = *customers
	cfg.Seed = *seed
	cfg.WindowDays = *windowDays
	cfg.Start = startDate

	transactions := datagen.Generate(cfg)
	fmt.Printf("Generated %d transactions for %d customers (seed %d)\n",
		len(transactions), *customers, *seed)

	if *baseURL != "" {
		if err := ingest(*baseURL, *tenantID, transactions); err != nil {
			fmt.Printf("ERROR: ingest failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested into %s as tenant %q\n", *baseURL, *tenantID)
		return
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Printf("ERROR: cannot create %s: %v\n", *outPath, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := writeCSV(out, transactions); err != nil {
		fmt.Printf("ERROR: CSV write failed: %v\n", err)
		os.Exit(1)
	}
	if *outPath != "" {
		fmt.Printf("Wrote %s\n", *outPath)
	}
}

func writeCSV(f *os.File, transactions []*domain.Transaction) error {
	w := csv.NewWriter(f)

	if err := w.Write([]string{"customer_id", "amount", "category", "date"}); err != nil {
		return err
	}
	for _, tx := range transactions {
		record := []string{
			strconv.FormatInt(tx.CustomerID, 10),
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			tx.Category,
			tx.Date.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

type batchRequest struct {
	Transactions []transactionRequest `json:"transactions"`
}

type transactionRequest struct {
	CustomerID int64     `json:"customerId"`
	Amount     float64   `json:"amount"`
	Category   string    `json:"category,omitempty"`
	Date       time.Time `json:"date"`
}

func ingest(baseURL, tenantID string, transactions []*domain.Transaction) error {
	client := &http.Client{Timeout: 30 * time.Second}

	for offset := 0; offset < len(transactions); offset += batchSize {
		end := offset + batchSize
		if end > len(transactions) {
			end = len(transactions)
		}

		batch := batchRequest{}
		for _, tx := range transactions[offset:end] {
			batch.Transactions = append(batch.Transactions, transactionRequest{
				CustomerID: tx.CustomerID,
				Amount:     tx.Amount,
				Category:   tx.Category,
				Date:       tx.Date,
			})
		}

		body, err := json.Marshal(batch)
		if err != nil {
			return err
		}

		req, err := http.NewRequest(http.MethodPost, baseURL+"/transactions/batch", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID)

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("batch %d-%d: unexpected status %d", offset, end, resp.StatusCode)
		}
	}

	return nil
}
