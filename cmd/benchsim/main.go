// Command benchsim drives concurrent RsaOp calls against a live
// dispatcher + backend pool and reports latency percentiles, grounded
// on cmd/latency-test's worker-pool benchmark shape (fixed operation
// count, fixed worker count, a WaitGroup-bounded fan-out, then
// min/max/p50/p95/p99 over collected samples). This is a load-test
// harness a human runs against a live worker, not the out-of-scope
// "standalone simulator" spec.md §1 excludes — it still drives the real
// Dispatcher/ServerTable/SpeedEstimator path end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
	"github.com/PayRpc/accessl-dispatch/internal/config"
	"github.com/PayRpc/accessl-dispatch/internal/dispatcher"
	"github.com/PayRpc/accessl-dispatch/internal/wire"
)

func main() {
	workerAddr := flag.String("worker", "127.0.0.1:9001", "UDP address of a cmd/worker instance")
	numOps := flag.Int("ops", 10000, "total number of RsaOp calls to issue")
	numWorkers := flag.Int("concurrency", 100, "number of concurrent callers")
	payload := flag.String("payload", "benchsim-payload", "plaintext to round-trip")
	flag.Parse()

	cfg := config.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	table := backend.New(backend.WithLogger(logger))
	table.Push(parseBackend(*workerAddr), 1000)

	disp := dispatcher.New(table, dispatcher.WithLogger(logger))

	fmt.Printf("benchsim: %d operations, %d concurrent callers, worker %s\n", *numOps, *numWorkers, *workerAddr)

	latencies := make([]time.Duration, *numOps)
	var failures int64
	var mu sync.Mutex
	next := 0

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				if next >= *numOps {
					mu.Unlock()
					return
				}
				idx := next
				next++
				mu.Unlock()

				opStart := time.Now()
				ctx, cancel := context.WithTimeout(context.Background(), cfg.CallBudget)
				_, err := disp.RsaOp(ctx, wire.Fingerprint{}, wire.OpRSAPrivDec, wire.PaddingPKCS1, []byte(*payload))
				cancel()

				if err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					continue
				}
				latencies[idx] = time.Since(opStart)
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	report(latencies, failures, total)
}

func percentileIndex(n, pct int) int {
	idx := n*pct/100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func parseBackend(addr string) backend.Backend {
	a := backend.Backend{ID: 1, Port: 9001}
	if udp, err := net.ResolveUDPAddr("udp4", addr); err == nil {
		a.Addr = udp.IP
		a.Port = uint16(udp.Port)
	}
	return a
}

func report(latencies []time.Duration, failures int64, total time.Duration) {
	// Failed operations leave a zero entry; only successes are samples.
	sorted := make([]time.Duration, 0, len(latencies))
	for _, d := range latencies {
		if d > 0 {
			sorted = append(sorted, d)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	fmt.Println("\n=== BENCHSIM RESULTS ===")
	fmt.Printf("Total duration: %v\n", total)
	fmt.Printf("Failures: %d\n", failures)
	if n == 0 {
		return
	}
	fmt.Printf("Min: %v\n", sorted[0])
	fmt.Printf("Max: %v\n", sorted[n-1])
	fmt.Printf("P50: %v\n", sorted[percentileIndex(n, 50)])
	fmt.Printf("P95: %v\n", sorted[percentileIndex(n, 95)])
	fmt.Printf("P99: %v\n", sorted[percentileIndex(n, 99)])
}
