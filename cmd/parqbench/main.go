// Command parqbench drives a parq.Queue with a fixed worker pool and
// repeatedly runs a parallel-for over a synthetic per-element compute
// workload (stand-in for the fine-grained per-particle work a physics
// simulation's broad phase would post), printing dispatch statistics
// once it's done.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/brisklane/parq"
	"github.com/brisklane/parq/internal/logging"
	"github.com/brisklane/parq/internal/workerpool"
)

func main() {
	var (
		workers      = flag.Int("workers", 4, "number of worker goroutines")
		iterations   = flag.Int("iterations", 100_000, "elements processed per round")
		rounds       = flag.Int("rounds", 10, "number of parallel-for rounds to run")
		taskCap      = flag.Int("queue-capacity", 4096, "ring buffer capacity (rounded up to a power of two)")
		contCap      = flag.Int("continuation-capacity", 256, "continuation table capacity")
		verbose      = flag.Bool("v", false, "verbose logging")
		affinityFlag = flag.String("affinity", "", "comma-separated CPU ids for worker pinning, e.g. 0,1,2,3")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	affinity, err := parseAffinity(*affinityFlag)
	if err != nil {
		logger.Error("invalid -affinity value", "error", err)
		os.Exit(1)
	}

	q, err := parq.New(parq.Config{
		TaskCapacity:         *taskCap,
		ContinuationCapacity: *contCap,
		Logger:               logger,
	})
	if err != nil {
		logger.Error("invalid queue configuration", "error", err)
		os.Exit(1)
	}

	pool := workerpool.New(q, logger)
	pool.CPUAffinity = affinity
	pool.Start(*workers)

	logger.Info("parqbench starting", "workers", *workers, "iterations", *iterations, "rounds", *rounds)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopEarly := make(chan struct{})
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, stopping after current round")
		close(stopEarly)
	}()

	data := make([]float64, *iterations)
	start := time.Now()

roundLoop:
	for round := 0; round < *rounds; round++ {
		select {
		case <-stopEarly:
			break roundLoop
		default:
		}

		roundStart := time.Now()
		q.ParallelFor(int32(*iterations), -1, func(i int32, workerIndex int32) {
			data[i] = math.Sqrt(float64(i)+1) + math.Sin(float64(i))
		})
		logger.Debugf("round %d complete in %s", round, time.Since(roundStart))
	}

	elapsed := time.Since(start)

	q.EnqueueStop()
	pool.Wait()

	snap := q.Stats()
	fmt.Printf("parqbench: %d rounds x %d iterations in %s\n", *rounds, *iterations, elapsed)
	fmt.Printf("  enqueue:  success=%d contested=%d full=%d tasks=%d\n",
		snap.EnqueueSuccess, snap.EnqueueContested, snap.EnqueueFull, snap.TasksEnqueued)
	fmt.Printf("  dequeue:  success=%d contested=%d empty=%d stop=%d\n",
		snap.DequeueSuccess, snap.DequeueContested, snap.DequeueEmpty, snap.DequeueStop)
	fmt.Printf("  continuations: allocated=%d completed=%d\n",
		snap.ContinuationAllocSuccess, snap.ContinuationsCompleted)
	fmt.Printf("  completion latency: avg=%dns p50=%dns p99=%dns p999=%dns\n",
		snap.AvgCompletionLatencyNs, snap.CompletionLatencyP50Ns, snap.CompletionLatencyP99Ns, snap.CompletionLatencyP999Ns)
}

func parseAffinity(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parsing CPU id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
