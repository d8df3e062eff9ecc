// Load generator for exercising a running feecore instance.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -n 10000 -workers 10
//
// This tool:
//   1. Optionally seeds a demo commission rule (-seed)
//   2. Fires synthetic quote or transaction traffic with concurrent workers
//   3. Reports throughput, latency, match rate, and commission volume
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// QuoteRequest mirrors the feecore quote API request format.
type QuoteRequest struct {
	Action   string `json:"action"`
	Audience string `json:"audience"`
	Amount   int64  `json:"amount"`
}

// QuoteResponse mirrors the feecore quote API response format.
type QuoteResponse struct {
	Commission int64  `json:"commission"`
	Total      int64  `json:"total"`
	RuleID     string `json:"ruleId"`
	NoMatch    bool   `json:"noMatch"`
}

// TransactionRequest mirrors the feecore transaction API request format.
type TransactionRequest struct {
	Type       string `json:"type"`
	Amount     int64  `json:"amount"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
}

// Metrics tracks load test results.
type Metrics struct {
	TotalRequests   int64
	TotalErrors     int64
	Matched         int64
	NoMatch         int64
	TotalCommission int64

	ProcessingTimeMs int64
}

var actions = []string{"payment", "transfer", "withdrawal", "recharge"}
var txTypes = []string{"PAYMENT", "TRANSFER", "WITHDRAWAL", "RECHARGE"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Feecore base URL")
	total := flag.Int("n", 10000, "Total requests to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	mode := flag.String("mode", "quotes", "Traffic mode: quotes or transactions")
	maxAmount := flag.Int64("max-amount", 100000, "Maximum random amount (minor units)")
	seed := flag.Bool("seed", false, "Seed a demo percentage rule before running")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    FEECORE LOAD GENERATOR                     ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nFeecore URL: %s\n", *baseURL)
	fmt.Printf("Mode:        %s\n", *mode)
	fmt.Printf("Requests:    %d\n", *total)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Max Amount:  %d\n", *maxAmount)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: feecore not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure feecore is running:")
		fmt.Println("  go run cmd/feecore/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ feecore is healthy")

	if *seed {
		if err := seedDemoRule(*baseURL); err != nil {
			fmt.Printf("ERROR: failed to seed demo rule: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ demo commission rule seeded (2.5% on payment)")
	}

	fmt.Printf("\nRunning load with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runLoad(*baseURL, *mode, *total, *workers, *maxAmount, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func seedDemoRule(baseURL string) error {
	rule := map[string]any{
		"id":       "loadgen-pct",
		"name":     "Loadgen payment fee",
		"action":   "payment",
		"audience": "USER",
		"structure": map[string]any{
			"type": "percentage",
			"rate": 2.5,
		},
		"isActive": true,
	}

	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}

	resp, err := http.Post(baseURL+"/api/v1/rules/commission", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func runLoad(baseURL, mode string, total, numWorkers int, maxAmount int64, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan int64, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for seq := range work {
				amount := rng.Int63n(maxAmount) + 1

				start := time.Now()
				var (
					result *QuoteResponse
					err    error
				)
				if mode == "transactions" {
					result, err = sendTransaction(client, baseURL, rng, seq, amount)
				} else {
					result, err = sendQuote(client, baseURL, rng, amount)
				}
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalRequests, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: request %d -> %v\n", seq, err)
					}
					continue
				}

				if result.NoMatch {
					atomic.AddInt64(&metrics.NoMatch, 1)
				} else {
					atomic.AddInt64(&metrics.Matched, 1)
					atomic.AddInt64(&metrics.TotalCommission, result.Commission)
				}

				if verbose {
					fmt.Printf("  #%-8d amount: %8d | commission: %6d | rule: %s\n",
						seq, amount, result.Commission, result.RuleID)
				}
			}
		}(i)
	}

	for i := 0; i < total; i++ {
		work <- int64(i)
	}
	close(work)

	wg.Wait()
	return metrics
}

func sendQuote(client *http.Client, baseURL string, rng *rand.Rand, amount int64) (*QuoteResponse, error) {
	req := QuoteRequest{
		Action:   actions[rng.Intn(len(actions))],
		Audience: "USER",
		Amount:   amount,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/api/v1/quotes", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var q QuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

func sendTransaction(client *http.Client, baseURL string, rng *rand.Rand, seq, amount int64) (*QuoteResponse, error) {
	req := TransactionRequest{
		Type:       txTypes[rng.Intn(len(txTypes))],
		Amount:     amount,
		SenderID:   fmt.Sprintf("loadgen-acc-%d", rng.Intn(100)),
		ReceiverID: fmt.Sprintf("loadgen-acc-%d", rng.Intn(100)+100),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/api/v1/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result struct {
		Quote QuoteResponse `json:"quote"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result.Quote, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOAD TEST RESULTS                       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 TRAFFIC\n")
	fmt.Printf("   Total Requests:   %d\n", m.TotalRequests)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Matched:          %d\n", m.Matched)
	fmt.Printf("   No Match:         %d\n", m.NoMatch)

	fmt.Printf("\n💰 COMMISSION\n")
	fmt.Printf("   Total Collected:  %d minor units\n", m.TotalCommission)
	if m.Matched > 0 {
		fmt.Printf("   Avg Per Match:    %.2f minor units\n", float64(m.TotalCommission)/float64(m.Matched))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalRequests > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalRequests)
		rps := float64(m.TotalRequests) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	fmt.Println()
}
