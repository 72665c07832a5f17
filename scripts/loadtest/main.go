// Loadtest sends compute requests through the balancer from concurrent
// workers and reports throughput, latency percentiles and how the answers
// were distributed across backends (by server_id).
//
// Usage:
//
//	go run ./scripts/loadtest --address localhost:12000 --concurrency 10 --requests 1000
//	go run ./scripts/loadtest --per-connection 20 --out summary.json
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/compute-balancer/internal/protocol"
)

// workload cycles through every operation so each backend sees a mix.
var workload = []string{
	`{"operation":"fibonacci","value":30}`,
	`{"operation":"prime","value":7919}`,
	`{"operation":"reverse","value":"load balancer"}`,
	`{"operation":"palindrome","value":"racecar"}`,
	`{"operation":"wordcount","value":"the quick brown fox"}`,
	`{"operation":"echo","data":"ping"}`,
	`{"operation":"square","value":12.5}`,
}

type backendStats struct {
	Count     int             `json:"count"`
	Errors    int             `json:"errors"`
	Latencies []time.Duration `json:"-"`
}

type stats struct {
	mutex     sync.Mutex
	latencies []time.Duration
	backends  map[string]*backendStats
	outages   atomic.Int64
	failures  atomic.Int64
}

func (s *stats) record(resp protocol.Response, d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.latencies = append(s.latencies, d)

	if resp.ServerID == "" {
		s.outages.Add(1)
		return
	}

	bs, ok := s.backends[resp.ServerID]
	if !ok {
		bs = &backendStats{}
		s.backends[resp.ServerID] = bs
	}
	bs.Count++
	if resp.Error != "" {
		bs.Errors++
	}
	bs.Latencies = append(bs.Latencies, d)
}

// session sends count requests over one connection.
func session(ctx context.Context, address string, first, count int, timeout time.Duration, st *stats) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		st.failures.Add(int64(count))
		return nil
	}
	defer conn.Close()

	reader := protocol.NewReader(bufio.NewReader(conn), 0)

	for i := first; i < first+count; i++ {
		start := time.Now()
		conn.SetDeadline(start.Add(timeout))

		if _, err := conn.Write([]byte(workload[i%len(workload)] + "\n")); err != nil {
			st.failures.Add(int64(first + count - i))
			return nil
		}

		var resp protocol.Response
		if err := reader.ReadMessage(&resp); err != nil {
			st.failures.Add(int64(first + count - i))
			return nil
		}

		st.record(resp, time.Since(start))
	}

	return nil
}

func percentiles(durations []time.Duration) (p50, p90, p99 time.Duration) {
	if len(durations) == 0 {
		return 0, 0, 0
	}

	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pick := func(p float64) time.Duration {
		return sorted[int(float64(len(sorted)-1)*p)]
	}
	return pick(0.50), pick(0.90), pick(0.99)
}

func main() {
	address := pflag.String("address", "localhost:12000", "balancer address")
	concurrency := pflag.Int("concurrency", 10, "number of concurrent connections")
	requests := pflag.Int("requests", 100, "total number of requests to send")
	perConnection := pflag.Int("per-connection", 1, "requests sent over each connection")
	timeout := pflag.Duration("timeout", 10*time.Second, "per-request timeout")
	outJSON := pflag.String("out", "", "write a JSON summary to this file")
	pflag.Parse()

	if *perConnection < 1 {
		*perConnection = 1
	}

	st := &stats{backends: make(map[string]*backendStats)}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*concurrency)

	testStart := time.Now()
	for first := 0; first < *requests; first += *perConnection {
		count := min(*perConnection, *requests-first)
		g.Go(func() error {
			return session(ctx, *address, first, count, *timeout, st)
		})
	}
	g.Wait()
	elapsed := time.Since(testStart)

	answered := len(st.latencies)
	p50, p90, p99 := percentiles(st.latencies)

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *address)
	fmt.Printf("Requests: %d  Concurrency: %d  Per connection: %d\n", *requests, *concurrency, *perConnection)
	fmt.Printf("Answered: %d  Outage responses: %d  Transport failures: %d\n",
		answered, st.outages.Load(), st.failures.Load())
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", elapsed, float64(answered)/elapsed.Seconds())
	fmt.Printf("Latency: p50=%v p90=%v p99=%v\n", p50, p90, p99)

	ids := make([]string, 0, len(st.backends))
	for id := range st.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Println("\nBackend distribution:")
	for _, id := range ids {
		bs := st.backends[id]
		b50, b90, b99 := percentiles(bs.Latencies)
		share := 100 * float64(bs.Count) / float64(max(answered, 1))
		fmt.Printf("  %s -> %d (%.1f%%) errors=%d p50=%v p90=%v p99=%v\n",
			id, bs.Count, share, bs.Errors, b50, b90, b99)
	}

	if *outJSON != "" {
		report := map[string]any{
			"target":         *address,
			"requests":       *requests,
			"concurrency":    *concurrency,
			"answered":       answered,
			"outages":        st.outages.Load(),
			"failures":       st.failures.Load(),
			"duration_ms":    elapsed.Milliseconds(),
			"p50_ms":         p50.Milliseconds(),
			"p90_ms":         p90.Milliseconds(),
			"p99_ms":         p99.Milliseconds(),
			"backends":       st.backends,
			"throughput_rps": float64(answered) / elapsed.Seconds(),
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if st.failures.Load() > 0 || st.outages.Load() > 0 {
		os.Exit(2)
	}
}
