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
	token       string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests  uint64
	processedCount uint64
	duplicateCount uint64
	rejectedCount  uint64
	failOther      uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&token, "token", "dev-secret", "Bearer token for the webhook endpoint")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "fresh", "Workload type: fresh | replay")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		webhookID := generateWebhookID()
		amount := (rand.Intn(5000) + 1) * 100

		payload := map[string]string{
			"message": fmt.Sprintf(
				"Bancolombia: Recibiste una transferencia por $%s de MARIA CUBAQUE en tu cuenta **7251 el 04/09/2025 a las 08:06.",
				groupDigits(amount)),
			"timestamp": time.Now().Format(time.RFC3339),
			"phone":     "+573001234567",
			"webhookId": webhookID,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/webhook/sms", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			var out struct {
				Status string `json:"status"`
			}
			if json.NewDecoder(resp.Body).Decode(&out) == nil && out.Status == "duplicate" {
				atomic.AddUint64(&duplicateCount, 1)
			} else {
				atomic.AddUint64(&processedCount, 1)
			}
		case 400, 401:
			atomic.AddUint64(&rejectedCount, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func generateWebhookID() string {
	// Replay workload reuses a small id pool so most deliveries hit the
	// dedup path; fresh workload makes every delivery unique.
	if workload == "replay" && rand.Float32() < 0.90 {
		return fmt.Sprintf("bench-replay-%d", rand.Intn(100))
	}
	return fmt.Sprintf("bench-%d-%d", rand.Intn(1<<16), time.Now().UnixNano())
}

func groupDigits(n int) string {
	s := fmt.Sprintf("%d", n)
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	processed := atomic.LoadUint64(&processedCount)
	duplicates := atomic.LoadUint64(&duplicateCount)
	rejected := atomic.LoadUint64(&rejectedCount)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	dupRate := 0.0
	if total > 0 {
		dupRate = float64(duplicates) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": tps,
		"processed":      processed,
		"duplicates":     duplicates,
		"dup_rate_pct":   dupRate,
		"rejected":       rejected,
		"errors":         fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
