// Benchmark tool for replaying quote scenarios against a running server.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/scenarios.csv -url http://localhost:8080
//
// The CSV needs a header row. Reserved columns:
//   rule_id        - calculation rule to evaluate (required)
//   formula        - formula code to select (optional)
//   package        - package code (optional)
//   options        - pipe-separated option codes (optional)
//   expected_total - expected total due, for accuracy checking (optional)
// Every other column is sent as a request parameter under its own name.
//
// The tool reports latency, throughput, and how many quotations matched
// their expected total and the additivity of their breakdown lines.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Scenario is one row from the scenarios CSV.
type Scenario struct {
	RuleID        string
	Formula       string
	Package       string
	Options       []string
	Parameters    map[string]string
	ExpectedTotal float64
	HasExpected   bool
}

// QuoteRequest mirrors the evaluate endpoint's request format.
type QuoteRequest struct {
	CalcRuleID          string            `json:"calcRuleId"`
	Parameters          map[string]string `json:"parameters"`
	SelectedFormulaCode string            `json:"selectedFormulaCode,omitempty"`
	PackageCode         string            `json:"packageCode,omitempty"`
	OptionCodes         []string          `json:"optionCodes,omitempty"`
}

// QuoteResponse holds the breakdown fields the tool checks.
type QuoteResponse struct {
	ID          string  `json:"id"`
	PrimeNette  float64 `json:"primeNette"`
	AdjustedNet float64 `json:"primeNetteAjustee"`
	TotalTaxes  float64 `json:"totalTaxes"`
	PrimeTTC    float64 `json:"primeTTC"`
	TotalFees   float64 `json:"totalFees"`
	TotalDue    float64 `json:"totalAPayer"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64

	Matches     int64 // expected total matched
	Mismatches  int64 // expected total differed
	BrokenSums  int64 // breakdown lines do not add up
	NoExpected  int64 // rows without an expected total
	ProcessedMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to scenarios CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Server base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum scenarios to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	tolerance := flag.Float64("tolerance", 0.01, "Tolerance when comparing totals")
	verbose := flag.Bool("verbose", false, "Print each scenario result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/scenarios.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("=== TARIF BENCHMARK - quote scenario replay ===")
	fmt.Printf("\nCSV File:   %s\n", *csvPath)
	fmt.Printf("Server URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:  %s\n", *tenantID)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Limit:      %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: server not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run cmd/tarif/main.go")
		os.Exit(1)
	}
	fmt.Println("server is healthy")

	fmt.Printf("\nReading scenarios from %s...\n", *csvPath)
	scenarios, err := readScenariosCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d scenarios\n", len(scenarios))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(scenarios, *baseURL, *tenantID, *workers, *tolerance, *verbose)
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

func readScenariosCSV(path string, limit int) ([]Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range header {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}

	var scenarios []Scenario
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		s := Scenario{Parameters: make(map[string]string)}
		for i, col := range header {
			if i >= len(record) {
				break
			}
			value := strings.TrimSpace(record[i])
			switch col {
			case "rule_id":
				s.RuleID = value
			case "formula":
				s.Formula = value
			case "package":
				s.Package = value
			case "options":
				if value != "" {
					s.Options = strings.Split(value, "|")
				}
			case "expected_total":
				if value != "" {
					total, err := strconv.ParseFloat(value, 64)
					if err == nil {
						s.ExpectedTotal = total
						s.HasExpected = true
					}
				}
			default:
				if value != "" {
					s.Parameters[col] = value
				}
			}
		}

		if s.RuleID == "" {
			continue
		}
		scenarios = append(scenarios, s)

		if limit > 0 && len(scenarios) >= limit {
			break
		}
	}

	return scenarios, nil
}

func runBenchmark(scenarios []Scenario, baseURL, tenantID string, numWorkers int, tolerance float64, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Scenario, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := evaluateScenario(client, baseURL, tenantID, s)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessedMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.RuleID, err)
					}
					continue
				}

				// Breakdown lines must add up to the totals
				sumOK := math.Abs(result.AdjustedNet+result.TotalTaxes-result.PrimeTTC) <= tolerance &&
					math.Abs(result.PrimeTTC+result.TotalFees-result.TotalDue) <= tolerance
				if !sumOK {
					atomic.AddInt64(&metrics.BrokenSums, 1)
				}

				status := "ok"
				if s.HasExpected {
					if math.Abs(result.TotalDue-s.ExpectedTotal) <= tolerance {
						atomic.AddInt64(&metrics.Matches, 1)
					} else {
						atomic.AddInt64(&metrics.Mismatches, 1)
						status = "mismatch"
					}
				} else {
					atomic.AddInt64(&metrics.NoExpected, 1)
				}

				if verbose {
					fmt.Printf("%-8s | Rule: %-20s | Net: %12.2f | TTC: %12.2f | Due: %12.2f\n",
						status,
						s.RuleID,
						result.PrimeNette,
						result.PrimeTTC,
						result.TotalDue,
					)
				}
			}
		}()
	}

	for _, s := range scenarios {
		work <- s
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateScenario(client *http.Client, baseURL, tenantID string, s Scenario) (*QuoteResponse, error) {
	req := QuoteRequest{
		CalcRuleID:          s.RuleID,
		Parameters:          s.Parameters,
		SelectedFormulaCode: s.Formula,
		PackageCode:         s.Package,
		OptionCodes:         s.Options,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result QuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n=== BENCHMARK RESULTS ===")

	fmt.Printf("\nSCENARIOS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nACCURACY\n")
	fmt.Printf("   Matched totals:   %d\n", m.Matches)
	fmt.Printf("   Mismatched:       %d\n", m.Mismatches)
	fmt.Printf("   No expected:      %d\n", m.NoExpected)
	fmt.Printf("   Broken sums:      %d\n", m.BrokenSums)

	checked := m.Matches + m.Mismatches
	if checked > 0 {
		fmt.Printf("   Match rate:       %.2f%%\n", 100*float64(m.Matches)/float64(checked))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessedMs) / float64(m.TotalProcessed)
		qps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f quotes/sec\n", qps)
	}

	fmt.Println()
}
