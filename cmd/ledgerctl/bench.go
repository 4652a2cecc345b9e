package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/fundsgate/internal/globalid"
)

const (
	workloadUniform   = "uniform"
	workloadHotspot   = "hotspot"
	workloadDuplicate = "duplicate"
)

type benchOptions struct {
	url      string
	workers  int
	duration time.Duration
	workload string
	amount   string
	accounts int
	keyPool  int
	output   string
}

type benchCounters struct {
	total     atomic.Uint64
	created   atomic.Uint64
	replayed  atomic.Uint64
	conflicts atomic.Uint64
	limited   atomic.Uint64
	other     atomic.Uint64
}

func benchCmd() *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive concurrent transfers against a running API",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.workload {
			case workloadUniform, workloadHotspot, workloadDuplicate:
			default:
				return fmt.Errorf("unknown workload %q (uniform | hotspot | duplicate)", opts.workload)
			}
			if opts.workers < 1 {
				return errors.New("--workers must be >= 1")
			}

			ctx := cmd.Context()
			_, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			ids, err := db.ListAccountIDs(ctx, opts.accounts)
			db.Close()
			if err != nil {
				return err
			}
			if len(ids) < 2 {
				return errors.New("need at least two accounts; run ledgerctl seed first")
			}

			logger.Info("starting benchmark", "workload", opts.workload, "workers", opts.workers, "duration", opts.duration, "accounts", len(ids))
			b := newBench(opts, ids)
			start := time.Now()
			if err := b.run(ctx); err != nil {
				return err
			}
			return b.report(time.Since(start))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080", "API base URL")
	f.IntVar(&opts.workers, "workers", 10, "number of concurrent workers")
	f.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	f.StringVar(&opts.workload, "workload", workloadUniform, "workload type: uniform | hotspot | duplicate")
	f.StringVar(&opts.amount, "amount", "1.00", "amount per transfer")
	f.IntVar(&opts.accounts, "accounts", 1000, "number of seeded accounts to draw from")
	f.IntVar(&opts.keyPool, "key-pool", 50, "distinct idempotency keys for the duplicate workload")
	f.StringVarP(&opts.output, "output", "o", "", "also write results to this file (default results_<workload>.json)")
	return cmd
}

type bench struct {
	opts     benchOptions
	accounts []string
	client   *http.Client
	counters benchCounters
}

func newBench(opts benchOptions, ids []uuid.UUID) *bench {
	accounts := make([]string, len(ids))
	for i, id := range ids {
		accounts[i] = globalid.Encode(globalid.TypeAccount, id)
	}
	return &bench{
		opts:     opts,
		accounts: accounts,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (b *bench) run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < b.opts.workers; w++ {
		rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)))
		g.Go(func() error {
			for ctx.Err() == nil {
				b.fire(ctx, rng)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *bench) fire(ctx context.Context, rng *rand.Rand) {
	from, to, key := b.pick(rng)
	body, _ := json.Marshal(map[string]string{
		"fromAccountId": from,
		"toAccountId":   to,
		"amount":        b.opts.amount,
		"description":   "bench",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.url+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		b.counters.other.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := b.client.Do(req)
	if err != nil {
		// requests cut off by the deadline are not counted
		if ctx.Err() == nil {
			b.counters.other.Add(1)
		}
		return
	}
	resp.Body.Close()
	b.record(resp.StatusCode)
}

func (b *bench) record(status int) {
	b.counters.total.Add(1)
	switch status {
	case http.StatusCreated:
		b.counters.created.Add(1)
	case http.StatusOK:
		b.counters.replayed.Add(1)
	case http.StatusConflict:
		b.counters.conflicts.Add(1)
	case http.StatusTooManyRequests:
		b.counters.limited.Add(1)
	default:
		b.counters.other.Add(1)
	}
}

// pick chooses a source, destination and idempotency key for one request.
// In the duplicate workload key k always maps to the same pair so repeats
// replay instead of mismatching.
func (b *bench) pick(rng *rand.Rand) (from, to, key string) {
	n := len(b.accounts)
	switch b.opts.workload {
	case workloadHotspot:
		// 90% of traffic between the first two accounts
		if rng.Float32() < 0.90 {
			if rng.IntN(2) == 0 {
				return b.accounts[0], b.accounts[1], uuid.NewString()
			}
			return b.accounts[1], b.accounts[0], uuid.NewString()
		}
	case workloadDuplicate:
		pool := max(b.opts.keyPool, 1)
		k := rng.IntN(pool)
		i := k % n
		j := (i + 1 + k/n) % n
		if j == i {
			j = (i + 1) % n
		}
		return b.accounts[i], b.accounts[j], fmt.Sprintf("bench-dup-%d", k)
	}

	i := rng.IntN(n)
	j := rng.IntN(n - 1)
	if j >= i {
		j++
	}
	return b.accounts[i], b.accounts[j], uuid.NewString()
}

func (b *bench) results(d time.Duration) map[string]any {
	total := b.counters.total.Load()
	conflicts := b.counters.conflicts.Load()
	var abortRate float64
	if total > 0 {
		abortRate = float64(conflicts) / float64(total) * 100
	}
	return map[string]any{
		"workload":        b.opts.workload,
		"workers":         b.opts.workers,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"success_created": b.counters.created.Load(),
		"success_replay":  b.counters.replayed.Load(),
		"aborts_conflict": conflicts,
		"abort_rate_pct":  abortRate,
		"rate_limited":    b.counters.limited.Load(),
		"errors":          b.counters.other.Load(),
	}
}

func (b *bench) report(d time.Duration) error {
	data, err := json.MarshalIndent(b.results(d), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))

	path := b.opts.output
	if path == "" {
		path = fmt.Sprintf("results_%s.json", b.opts.workload)
	}
	return os.WriteFile(path, data, 0o644)
}
