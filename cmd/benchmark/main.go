package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	seedAmount  int64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Created or idempotent replays
	fail409       uint64 // Conflicts (insufficient funds, key races)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 100, "Number of accounts to create before the run")
	flag.Int64Var(&seedAmount, "seed-amount", 100000, "Opening deposit per account, minor units")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	ids, err := seedAccounts()
	if err != nil {
		log.Fatalf("Account setup failed: %v", err)
	}
	log.Printf("Created and funded %d accounts", len(ids))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, ids)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// seedAccounts creates the working set over the API and funds each account
// with an opening deposit.
func seedAccounts() ([]string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	ids := make([]string, 0, accounts)

	for i := 0; i < accounts; i++ {
		body, _ := json.Marshal(map[string]string{"owner_name": fmt.Sprintf("bench-%04d", i)})
		resp, err := client.Post(targetURL+"/api/v1/accounts", "application/json", bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}
		var account struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()

		depositBody, _ := json.Marshal(map[string]interface{}{"amount": seedAmount, "memo": "bench seed"})
		req, _ := http.NewRequest("POST", fmt.Sprintf("%s/api/v1/accounts/%s/deposit", targetURL, account.ID), bytes.NewBuffer(depositBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", fmt.Sprintf("bench-seed-%s", account.ID))
		depResp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		depResp.Body.Close()

		ids = append(ids, account.ID)
	}
	return ids, nil
}

func worker(wg *sync.WaitGroup, start time.Time, ids []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickAccounts(ids)
		amount := int64(100)

		key := fmt.Sprintf("bench-%s-%s-%d", from, to, time.Now().UnixNano())

		payload := map[string]interface{}{
			"source_account_id": from,
			"dest_account_id":   to,
			"amount":            amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickAccounts(ids []string) (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return ids[0], ids[1]
			}
			return ids[1], ids[0]
		}
	}

	// Uniform Random
	a := rand.Intn(len(ids))
	b := rand.Intn(len(ids))
	for a == b {
		b = rand.Intn(len(ids))
	}
	return ids[a], ids[b]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	abortRate := float64(f409) / float64(total) * 100

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success":         s200,
		"aborts_conflict": f409,
		"abort_rate_pct":  abortRate,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
