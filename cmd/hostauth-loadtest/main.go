// Command hostauth-loadtest measures session checks and logins against an
// in-process engine backed by a temporary sqlite file and Redis (miniredis
// when no address is given).
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/hostauth"
	"github.com/MrEthical07/hostauth/password"
	"github.com/MrEthical07/hostauth/store/sqlstore"
)

type options struct {
	accounts  int
	workers   int
	checks    int
	logins    int
	redisAddr string
	cheapHash bool
}

func main() {
	var o options
	flag.IntVar(&o.accounts, "accounts", 200, "identities to register before measuring")
	flag.IntVar(&o.workers, "concurrency", 64, "concurrent callers")
	flag.IntVar(&o.checks, "ops", 50000, "VerifySession and Authenticate calls per phase")
	flag.IntVar(&o.logins, "logins", 500, "Login calls")
	flag.StringVar(&o.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")
	flag.BoolVar(&o.cheapHash, "cheap-hash", true, "hash with the 8 MiB argon2 floor instead of the production profiles")
	flag.Parse()

	if o.accounts <= 0 || o.workers <= 0 || o.checks <= 0 || o.logins < 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency and ops must be positive")
		os.Exit(2)
	}
	if err := run(context.Background(), o); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}

type account struct {
	email    string
	password string
	token    string
}

func run(ctx context.Context, o options) error {
	engine, closeAll, err := newEngine(ctx, o)
	defer closeAll()
	if err != nil {
		return err
	}

	fmt.Printf("registering %d identities\n", o.accounts)
	began := time.Now()
	accts := make([]account, o.accounts)
	for i := range accts {
		a := account{
			email:    fmt.Sprintf("load-%d@example.com", i),
			password: fmt.Sprintf("load-pass-%06d", i),
		}
		res, err := engine.Register(ctx, hostauth.RegisterRequest{Email: a.email, Password: a.password})
		if err != nil {
			return fmt.Errorf("register %s: %w", a.email, err)
		}
		a.token = res.Token
		accts[i] = a
	}
	fmt.Printf("registered in %s\n", time.Since(began).Round(time.Millisecond))

	pick := func() account { return accts[rand.IntN(len(accts))] }
	phases := []struct {
		name string
		n    int
		op   func() error
	}{
		{"verify", o.checks, func() error {
			_, err := engine.VerifySession(ctx, pick().token)
			return err
		}},
		{"authenticate", o.checks, func() error {
			_, err := engine.Authenticate(ctx, pick().token)
			return err
		}},
		{"login", o.logins, func() error {
			a := pick()
			_, err := engine.Login(ctx, hostauth.LoginRequest{Email: a.email, Password: a.password})
			return err
		}},
	}

	fmt.Println("phase         ops  failed   ops/s        p50        p95        p99")
	for _, p := range phases {
		fmt.Println(measure(p.n, o.workers, p.op).row(p.name))
	}

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: sessions_issued=%d session_rejected=%d login_failure=%d\n",
		snap.Counters[hostauth.MetricSessionIssued],
		snap.Counters[hostauth.MetricSessionRejected],
		snap.Counters[hostauth.MetricLoginFailure])
	return nil
}

// newEngine wires the engine and returns a func that releases everything
// opened so far, even on error.
func newEngine(ctx context.Context, o options) (*hostauth.Engine, func(), error) {
	var closers []func()
	closeAll := func() {
		for _, c := range slices.Backward(closers) {
			c()
		}
	}

	addr := o.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, closeAll, fmt.Errorf("miniredis: %w", err)
		}
		closers = append(closers, mr.Close)
		addr = mr.Addr()
		fmt.Println("redis: miniredis", addr)
	} else {
		fmt.Println("redis:", addr)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	closers = append(closers, func() { _ = client.Close() })

	dir, err := os.MkdirTemp("", "hostauth-loadtest-*")
	if err != nil {
		return nil, closeAll, err
	}
	closers = append(closers, func() { _ = os.RemoveAll(dir) })

	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: filepath.Join(dir, "load.db")})
	if err != nil {
		return nil, closeAll, fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		return nil, closeAll, fmt.Errorf("migrate: %w", err)
	}

	engine, err := hostauth.New().
		WithConfig(engineConfig(o.cheapHash)).
		WithStore(store).
		WithRedis(client).
		Build()
	if err != nil {
		return nil, closeAll, fmt.Errorf("build engine: %w", err)
	}
	closers = append(closers, engine.Close)
	return engine, closeAll, nil
}

func engineConfig(cheap bool) hostauth.Config {
	cfg := hostauth.DefaultConfig()
	cfg.Session.PrivateKey = []byte(strings.Repeat("L", 32))
	cfg.SecondFactor.SealingKeys = "load:" + base64.StdEncoding.EncodeToString([]byte(strings.Repeat("S", 32)))
	cfg.Notifications.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	if cheap {
		floor := password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
		cfg.Password.Primary = floor
		cfg.Password.Recovery = floor
	}
	return cfg
}

type result struct {
	elapsed time.Duration
	failed  int64
	samples []time.Duration
}

// measure runs op n times on at most workers goroutines.
func measure(n, workers int, op func() error) result {
	r := result{samples: make([]time.Duration, n)}
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)

	began := time.Now()
	for i := range n {
		g.Go(func() error {
			t0 := time.Now()
			if op() != nil {
				failed.Add(1)
			}
			r.samples[i] = time.Since(t0)
			return nil
		})
	}
	_ = g.Wait()
	r.elapsed = time.Since(began)
	r.failed = failed.Load()
	slices.Sort(r.samples)
	return r
}

func (r result) quantile(q float64) time.Duration {
	if len(r.samples) == 0 {
		return 0
	}
	return r.samples[int(q*float64(len(r.samples)-1))]
}

func (r result) row(name string) string {
	rate := 0.0
	if r.elapsed > 0 {
		rate = float64(len(r.samples)) / r.elapsed.Seconds()
	}
	return fmt.Sprintf("%-12s %6d %7d %7.0f %10s %10s %10s",
		name, len(r.samples), r.failed, rate,
		r.quantile(0.50).Round(time.Microsecond),
		r.quantile(0.95).Round(time.Microsecond),
		r.quantile(0.99).Round(time.Microsecond))
}
