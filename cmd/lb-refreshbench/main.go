// lb-refreshbench measures the refresh pipeline under load. Each round
// revokes all access tokens on an in-process API server and then fires
// concurrent requests through a set of clients that share one session in
// Redis. Every client should issue exactly one refresh per round.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/little-brother/lbclient"
	"github.com/little-brother/lbclient/internal/fakeserver"
	"github.com/little-brother/lbclient/transport"
)

type options struct {
	clients      int
	requests     int
	concurrency  int
	rounds       int
	refreshDelay time.Duration
	redisAddr    string
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("lb-refreshbench", pflag.ExitOnError)
	fs.IntVar(&opts.clients, "clients", 4, "clients sharing the session")
	fs.IntVar(&opts.requests, "requests", 512, "requests per round")
	fs.IntVar(&opts.concurrency, "concurrency", 64, "concurrent workers")
	fs.IntVar(&opts.rounds, "rounds", 5, "token revocation rounds")
	fs.DurationVar(&opts.refreshDelay, "refresh-delay", 50*time.Millisecond, "server-side latency of /refresh")
	fs.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	_ = fs.Parse(os.Args[1:])

	if opts.clients <= 0 || opts.requests <= 0 || opts.concurrency <= 0 || opts.rounds <= 0 {
		fmt.Fprintln(os.Stderr, "clients, requests, concurrency and rounds must be > 0")
		os.Exit(2)
	}

	results, err := bench(context.Background(), opts, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lb-refreshbench: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	for i, r := range results {
		printStats(fmt.Sprintf("round %d", i+1), r)
	}
}

func openRedis(addr string, out io.Writer) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Fprintf(out, "using redis at %s\n", addr)
		return rdb, func() { _ = rdb.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
	return rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}, nil
}

type roundStats struct {
	total        time.Duration
	ops          int
	failures     int64
	refreshCalls int64
	navigations  int64
	p50          time.Duration
	p95          time.Duration
	p99          time.Duration
	opsPerS      float64
}

func bench(ctx context.Context, opts options, out io.Writer) ([]roundStats, error) {
	srv, err := fakeserver.New(fakeserver.WithRefreshDelay(opts.refreshDelay))
	if err != nil {
		return nil, err
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	rdb, closeRedis, err := openRedis(opts.redisAddr, out)
	if err != nil {
		return nil, err
	}
	defer closeRedis()

	var navigations atomic.Int64
	clients, err := buildClients(ctx, opts.clients, ts.URL+fakeserver.DefaultPrefix, rdb, &navigations)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()

	results := make([]roundStats, 0, opts.rounds)
	for range opts.rounds {
		srv.ExpireAccessTokens()
		before, navBefore := srv.RefreshCalls(), navigations.Load()
		r := runRound(ctx, clients, opts.requests, opts.concurrency)
		r.refreshCalls = srv.RefreshCalls() - before
		for _, c := range clients {
			c.Settle()
		}
		r.navigations = navigations.Load() - navBefore
		results = append(results, r)
	}
	return results, nil
}

func buildClients(ctx context.Context, n int, baseURL string, rdb redis.UniversalClient, navigations *atomic.Int64) ([]*lbclient.Client, error) {
	cfg := lbclient.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.Session.Profile = "bench"
	cfg.Session.RedisPrefix = "lb-refreshbench"
	cfg.Events.Enabled = false

	clients := make([]*lbclient.Client, 0, n)
	for i := range n {
		c, err := lbclient.New().
			WithConfig(cfg).
			WithRedis(rdb).
			WithNavigator(transport.NavigatorFunc(func(context.Context, error) { navigations.Add(1) })).
			Build()
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
		if i == 0 {
			if _, err := c.Login(ctx, fakeserver.ParentUser, fakeserver.ParentPass); err != nil {
				return nil, fmt.Errorf("login: %w", err)
			}
			continue
		}
		if err := c.Restore(ctx); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
	}
	return clients, nil
}

func runRound(ctx context.Context, clients []*lbclient.Client, ops, concurrency int) roundStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					return
				}
				c := clients[i%len(clients)]
				t0 := time.Now()
				_, err := c.UserStatus(ctx)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) roundStats {
	if len(samples) == 0 {
		return roundStats{total: total}
	}
	slices.Sort(samples)
	return roundStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s roundStats) {
	fmt.Printf("%s: ops=%d failures=%d refreshes=%d navigations=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.refreshCalls,
		s.navigations,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
