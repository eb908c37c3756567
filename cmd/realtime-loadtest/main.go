package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goRealtime "github.com/MrEthical07/goRealtime"
	"github.com/MrEthical07/goRealtime/client"
	"github.com/MrEthical07/goRealtime/identity"
	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type tick struct {
	Seq    int   `json:"seq"`
	SentAt int64 `json:"sent_at"`
}

type sessionState struct {
	subject string
	sess    *client.Session
}

func main() {
	var (
		sessions    = flag.Int("sessions", 500, "number of realtime sessions to open")
		concurrency = flag.Int("concurrency", 64, "number of concurrent connect workers")
		broadcasts  = flag.Int("broadcasts", 200, "broadcasts sent to the default room")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "principal", "identity key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *broadcasts <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and broadcasts must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := identity.NewRedisStore(rdb, *prefix)

	cfg := goRealtime.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := goRealtime.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := httptest.NewServer(engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d principals...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		subject := fmt.Sprintf("teacher-%d", i)
		states[i] = sessionState{subject: subject}
		if err := store.SavePrincipal(ctx, goRealtime.Principal{
			SubjectID: subject,
			Role:      goRealtime.RoleTeacher,
			IsActive:  true,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var (
		recvMu    sync.Mutex
		received  = make([]time.Duration, 0, *sessions**broadcasts)
		delivered int64
	)
	onMessage := func(ev client.Event) {
		if ev.Kind != client.EventMessage {
			return
		}
		var t tick
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			return
		}
		d := time.Since(time.Unix(0, t.SentAt))
		atomic.AddInt64(&delivered, 1)
		recvMu.Lock()
		received = append(received, d)
		recvMu.Unlock()
	}

	connectStats := runConnectPhase(engine, wsURL, states, *concurrency, onMessage)
	defer func() {
		for i := range states {
			if states[i].sess != nil {
				states[i].sess.Close()
			}
		}
	}()

	joined := engine.RoomMembers(protocol.DefaultRoom)
	fmt.Printf("%d connections in %s\n", joined, protocol.DefaultRoom)

	broadcastStats := runBroadcastPhase(engine, *broadcasts)

	expected := int64(joined) * int64(*broadcasts)
	deadline := time.Now().Add(10 * time.Second)
	for atomic.LoadInt64(&delivered) < expected && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	recvMu.Lock()
	samples := append([]time.Duration(nil), received...)
	recvMu.Unlock()
	fanoutStats := computeStats(broadcastStats.total, samples, expected-int64(len(samples)))

	fmt.Println("---- results ----")
	printStats("connect+authenticate", connectStats)
	printStats("broadcast", broadcastStats)
	printStats("delivery", fanoutStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: auth_success=%d auth_failure=%d broadcast_delivered=%d\n",
		snap.Counters[goRealtime.MetricAuthSuccess],
		snap.Counters[goRealtime.MetricAuthFailure],
		snap.Counters[goRealtime.MetricBroadcastDelivered],
	)
}

func runConnectPhase(engine *goRealtime.Engine, wsURL string, states []sessionState, concurrency int, onMessage func(client.Event)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(states))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(states) {
					return
				}
				state := &states[i]
				t0 := time.Now()
				sess, err := connectOne(engine, wsURL, state.subject, onMessage)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				state.sess = sess
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// connectOne opens a session for subject and blocks until it has joined the
// default room or failed.
func connectOne(engine *goRealtime.Engine, wsURL, subject string, onMessage func(client.Event)) (*client.Session, error) {
	issuer := client.IssuerFunc(func(context.Context) (client.Lease, error) {
		token, exp, err := engine.IssueToken(subject)
		if err != nil {
			return client.Lease{}, err
		}
		return client.Lease{Token: token, ExpiresAt: exp}, nil
	})

	sess, err := client.NewSession(client.DefaultConfig(wsURL), client.WebsocketDialer{}, issuer)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	sess.Subscribe(func(ev client.Event) {
		switch ev.Kind {
		case client.EventRoomJoined:
			finish(nil)
		case client.EventRoomJoinDenied:
			finish(fmt.Errorf("join denied: %s", ev.ErrorMessage))
		case client.EventStateChanged:
			if ev.State == client.StateError {
				finish(fmt.Errorf("session error: %s", sess.Snapshot().ErrorMessage))
			}
		}
		onMessage(ev)
	})
	sess.JoinRoom(protocol.DefaultRoom)
	if err := sess.Connect(); err != nil {
		sess.Close()
		return nil, err
	}

	select {
	case err := <-done:
		if err != nil {
			sess.Close()
			return nil, err
		}
		return sess, nil
	case <-time.After(10 * time.Second):
		sess.Close()
		return nil, fmt.Errorf("%s: timed out waiting for room join", subject)
	}
}

func runBroadcastPhase(engine *goRealtime.Engine, broadcasts int) phaseStats {
	var (
		failures  int64
		latencies = make([]time.Duration, 0, broadcasts)
	)

	start := time.Now()
	for i := 0; i < broadcasts; i++ {
		t0 := time.Now()
		_, err := engine.Broadcast(protocol.DefaultRoom, "schedule_tick", tick{Seq: i, SentAt: t0.UnixNano()})
		d := time.Since(t0)
		if err != nil {
			failures++
		}
		latencies = append(latencies, d)
	}
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
