package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dNIO/cmd/util"
	statistics "github.com/ValentinKolb/dNIO/lib/util"
	"github.com/ValentinKolb/dNIO/server/client"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd measures throughput and latency of a running server
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for dNIO servers",
		Long:    "Sends requests from parallel goroutines, one connection per request, and reports throughput and latency. Start the server in echo mode to measure large payloads end to end.",
		RunE:    run,
		PreRunE: processBenchConfig,
	}
	benchClient      *client.Client
	benchConfig      common.ClientConfig
	benchThreads     = 10
	benchLargeSizeKB = 100
	benchSkip        = make([]string, 0)
)

// benchResult is one finished benchmark together with its latency distribution
type benchResult struct {
	result  testing.BenchmarkResult
	latency *statistics.LatencyHistogram
	workers statistics.Stats // mean latency per goroutine, in milliseconds
	errors  int
}

func init() {
	util.SetupClientFlags(BenchCmd)

	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. small,large)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU sending requests"))
	key = "large-size"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How large the payload of the large test should be (in KB)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}
	benchConfig = config
	benchClient = client.NewClient(config)

	// Read the configuration from the command line flags and environment variables
	benchThreads = max(viper.GetInt("threads"), 1)
	benchLargeSizeKB = max(viper.GetInt("large-size"), 1)
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dNIO servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(benchConfig.String())
	fmt.Printf("Threads: %d\n", benchThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]benchResult)

	results["small"] = runBenchmark("small", []byte("Hello from client"))
	printResult("small", results["small"])

	results["large"] = runBenchmark("large", make([]byte, benchLargeSizeKB*1024))
	printResult("large", results["large"])

	results["empty"] = runBenchmark("empty", nil)
	printResult("empty", results["empty"])

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runBenchmark sends payload from parallel goroutines until testing.Benchmark is satisfied
func runBenchmark(test string, payload []byte) benchResult {
	res := benchResult{latency: statistics.NewLatencyHistogram()}
	if shouldSkip(test) {
		return res
	}

	var mu sync.Mutex
	var perWorker []time.Duration

	res.result = testing.Benchmark(func(b *testing.B) {
		// testing.Benchmark calls this repeatedly with growing b.N, only the last round counts
		res.latency.Reset()
		mu.Lock()
		perWorker = perWorker[:0]
		res.errors = 0
		mu.Unlock()

		b.SetParallelism(benchThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			var total time.Duration
			var count, failed int
			for pb.Next() {
				start := time.Now()
				_, err := benchClient.Do(payload)
				elapsed := time.Since(start)
				if err != nil {
					failed++
					log.Printf("(%s) - error sending request: %v\n", test, err)
					continue
				}
				res.latency.Observe(elapsed)
				total += elapsed
				count++
			}

			mu.Lock()
			defer mu.Unlock()
			res.errors += failed
			if count > 0 {
				perWorker = append(perWorker, total/time.Duration(count))
			}
		})
	})

	res.workers = statistics.DurationStats(perWorker)
	return res
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, res benchResult) {
	if res.result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(res.result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
	fmt.Printf("%-20sp50=%dus p99=%dus max=%dus mean=%dus errors=%d\n", "",
		res.latency.Percentile(50), res.latency.Percentile(99), res.latency.Max(), res.latency.Mean(), res.errors)
	fmt.Printf("%-20sgoroutines: min=%.2fms max=%.2fms stddev=%.2fms fairness=%.2f\n", "",
		res.workers.Min, res.workers.Max, res.workers.StdDeviation, res.workers.MinMaxRatio)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]benchResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"P50Us", "P99Us", "MaxUs", "MeanUs", "Errors",
		"Endpoint", "BufferSize", "RetryCount",
		"Threads", "LargeSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, res := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if res.result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(res.result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.FormatInt(res.latency.Percentile(50), 10),
			strconv.FormatInt(res.latency.Percentile(99), 10),
			strconv.FormatInt(res.latency.Max(), 10),
			strconv.FormatInt(res.latency.Mean(), 10),
			strconv.Itoa(res.errors),
			benchConfig.Endpoint().String(),
			strconv.Itoa(benchConfig.BufferSize),
			strconv.Itoa(benchConfig.RetryCount),
			strconv.Itoa(benchThreads),
			strconv.Itoa(benchLargeSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
