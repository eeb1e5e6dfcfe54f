package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loganszeto/framekv/internal/client"
	"github.com/loganszeto/framekv/internal/config"
)

type benchOptions struct {
	workers   int
	ops       int
	ratioGet  float64
	valueSize int
	keys      int
}

var (
	v    = viper.New()
	opts benchOptions
)

var rootCmd = &cobra.Command{
	Use:          "kv-bench",
	Short:        "Load a kv-server with a GET/SET mix and report latency",
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return config.Bind(v, cmd)
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.FromViper(v)
		if err != nil {
			return err
		}
		if opts.workers <= 0 || opts.ops <= 0 || opts.keys <= 0 {
			return fmt.Errorf("workers, ops and keys must be > 0")
		}
		c := client.New(cfg.Addr(), client.WithTimeout(cfg.Timeout))
		res := runBench(cmd.Context(), c, opts)
		res.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	cobra.OnInitialize(func() { config.LoadEnv(v) })
	config.RegisterClientFlags(rootCmd)
	flags := rootCmd.Flags()
	flags.IntVar(&opts.workers, "workers", 10, "concurrent goroutines")
	flags.IntVar(&opts.ops, "ops", 10000, "total operations")
	flags.Float64Var(&opts.ratioGet, "ratio-get", 0.8, "share of GET operations")
	flags.IntVar(&opts.valueSize, "value-size", 128, "value size in bytes")
	flags.IntVar(&opts.keys, "keys", 1000, "number of distinct keys")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type result struct {
	ops     int64
	errors  int64
	elapsed time.Duration
	lats    []time.Duration
}

// kv is the subset of client.Client the benchmark drives.
type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) (string, error)
}

func runBench(ctx context.Context, c kv, o benchOptions) result {
	value := strings.Repeat("x", o.valueSize)
	keys := make([]string, o.keys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key:%d", i)
	}

	var next, failed atomic.Int64
	latCh := make(chan time.Duration, o.ops)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
			for {
				if int(next.Add(1)) > o.ops || ctx.Err() != nil {
					return
				}
				key := keys[rng.Intn(len(keys))]
				startOp := time.Now()
				var err error
				if rng.Float64() < o.ratioGet {
					_, err = c.Get(ctx, key)
				} else {
					_, err = c.Set(ctx, key, value)
				}
				if err != nil {
					failed.Add(1)
					continue
				}
				latCh <- time.Since(startOp)
			}
		}(i)
	}
	wg.Wait()
	close(latCh)

	res := result{elapsed: time.Since(start), errors: failed.Load()}
	for d := range latCh {
		res.lats = append(res.lats, d)
	}
	res.ops = int64(len(res.lats))
	return res
}

func (r result) print(w io.Writer) {
	fmt.Fprintf(w, "Total ops: %d\n", r.ops)
	fmt.Fprintf(w, "Errors: %d\n", r.errors)
	fmt.Fprintf(w, "Elapsed: %s\n", r.elapsed)
	if r.elapsed > 0 {
		fmt.Fprintf(w, "Ops/sec: %.2f\n", float64(r.ops)/r.elapsed.Seconds())
	}
	if len(r.lats) == 0 {
		fmt.Fprintln(w, "No latency samples")
		return
	}
	slices.Sort(r.lats)
	fmt.Fprintf(w, "p50: %s\n", percentile(r.lats, 50))
	fmt.Fprintf(w, "p95: %s\n", percentile(r.lats, 95))
	fmt.Fprintf(w, "p99: %s\n", percentile(r.lats, 99))
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	return sorted[len(sorted)*p/100]
}
