package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http/httptest"
	"os"
	"os/exec"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"casedesk/auth"
	"casedesk/cases"
	"casedesk/channel"
	"casedesk/notify"
	"casedesk/offer"
	"casedesk/pool"
	"casedesk/reconcile"
	"casedesk/session"
	"casedesk/test/actors"
	"casedesk/test/chaos"
	"casedesk/test/infra"
	"casedesk/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "bidders per professional")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate idle backends while running")
)

const stressSecret = "stress-secret"

var categories = []string{"Family Law", "Criminal", "Tax Law", "Immigration", ""}

// repoFetcher serves the engine straight from the repositories, the same
// reads the bulk API answers with.
type repoFetcher struct {
	cases  cases.Repository
	offers offer.Repository
	specs  []string
}

func (f repoFetcher) ListAssigned(ctx context.Context, professionalID int64) ([]cases.Case, error) {
	return f.cases.ListAssigned(ctx, professionalID)
}

func (f repoFetcher) ListRecommended(ctx context.Context, professionalID int64) ([]cases.Case, error) {
	return f.cases.ListRecommended(ctx, cases.Filters{ProfessionalID: professionalID, Specializations: f.specs})
}

func (f repoFetcher) ListOffers(ctx context.Context, professionalID int64) ([]offer.Offer, error) {
	return f.offers.ListForProfessional(ctx, professionalID)
}

func (f repoFetcher) GetCase(ctx context.Context, caseID int64) (cases.Detail, error) {
	return f.cases.GetDetail(ctx, caseID)
}

func TestCasePoolConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed
	rand.Seed(seed)
	t.Logf("seed=%d", seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+90*time.Second)
	defer cancel()

	dsn, isolate, pgC := resolveDatabase(t, ctx)
	defer pgC.Terminate(context.Background())

	db, teardown, err := infra.ApplyMigrations(ctx, dsn, isolate)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer db.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	if err := infra.Reset(ctx, db); err != nil {
		t.Fatalf("reset: %v", err)
	}

	fx, err := infra.Seed(ctx, db, seed, 2, [][]string{
		{"Family Law"},
		{"Criminal Law", "Tax"},
		{},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	if testing.Verbose() {
		logger = log.New(os.Stderr, "stress: ", log.Lmicroseconds)
	}

	authService := auth.NewService(nil, stressSecret)
	hub := channel.NewHub(authService, logger)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.DropAll()

	// Background: relay and one live engine watching the first professional.
	bgCtx, bgCancel := context.WithCancel(ctx)
	bg, bgCtx := errgroup.WithContext(bgCtx)
	defer func() {
		bgCancel()
		if err := bg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("background: %v", err)
		}
	}()

	relay := notify.NewRelay(notify.NewPGOutbox(db, notify.DefaultMaxAttempts), hub, 100*time.Millisecond, 50, logger)
	bg.Go(func() error {
		if err := relay.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	watched := fx.ProfessionalIDs[0]
	specs := fx.Specializations[0]
	token, err := authService.IssueToken(auth.Identity{UserID: watched, Role: auth.RoleProfessional, Specializations: specs})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	fetcher := repoFetcher{cases: cases.NewRepository(db), offers: offer.NewRepository(db), specs: specs}
	engine := reconcile.New(session.New(watched, token, specs), fetcher, reconcile.WithLogger(logger))
	bg.Go(func() error { return engine.Run(bgCtx) })

	adapter := channel.NewAdapter(channel.Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:          token,
		UserID:         watched,
		ReconnectDelay: 200 * time.Millisecond,
		Logger:         logger,
	}, channel.Callbacks{OnEvent: engine.OnEvent, OnState: engine.OnState})
	adapter.Activate(bgCtx)
	defer adapter.Deactivate()

	// Actors.
	g, actx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, clientID := range fx.ClientIDs {
		clientID := clientID
		g.Go(func() error { return actors.Publisher(actx, db, clientID, categories, stop) })
		g.Go(func() error { return actors.Acceptor(actx, db, clientID, stop) })
		g.Go(func() error { return actors.Targeter(actx, db, clientID, fx.ProfessionalIDs, stop) })
		g.Go(func() error { return actors.Deleter(actx, db, clientID, stop) })
	}
	for _, proID := range fx.ProfessionalIDs {
		proID := proID
		for i := 0; i < *flConcurrency; i++ {
			g.Go(func() error { return actors.Bidder(actx, db, proID, stop) })
		}
	}
	g.Go(func() error { return actors.Progressor(actx, db, stop) })
	g.Go(func() error { return actors.Expirer(actx, db, 3*time.Second, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(actx, db, 2*time.Second, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-actx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx, db)
			if err != nil {
				t.Logf("oracle run: %v", err)
				continue
			}
			if name != "" {
				close(stop)
				dumpRecent(t, ctx, db)
				t.Fatalf("oracle %s failed, first row: %s (seed=%d)", name, row, seed)
			}
			if s := engine.Snapshot(); !s.Disjoint() {
				close(stop)
				t.Fatalf("engine pools overlap at epoch %d (seed=%d)", s.Epoch, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("actors errored: %v (seed=%d)", err, seed)
	}

	if name, row, err := oracles.Run(ctx, db); err != nil || name != "" {
		t.Fatalf("final oracles: %s %s %v (seed=%d)", name, row, err, seed)
	}

	assertConverged(t, ctx, engine, fetcher, watched)
}

// assertConverged refreshes the engine once the writers are quiet and checks
// that its assigned pools equal a fresh classification and that Discovery
// only shows cases the professional can still bid on.
func assertConverged(t *testing.T, ctx context.Context, engine *reconcile.Engine, fetcher repoFetcher, professionalID int64) {
	t.Helper()

	assigned, err := fetcher.ListAssigned(ctx, professionalID)
	if err != nil {
		t.Fatalf("list assigned: %v", err)
	}
	recommended, err := fetcher.ListRecommended(ctx, professionalID)
	if err != nil {
		t.Fatalf("list recommended: %v", err)
	}
	want := pool.ClassifyAssigned(professionalID, assigned)
	open := make(pool.IDSet, len(recommended))
	for _, c := range recommended {
		open[c.ID] = struct{}{}
	}

	engine.Refresh()
	var mismatch string
	for end := time.Now().Add(15 * time.Second); time.Now().Before(end); time.Sleep(100 * time.Millisecond) {
		mismatch = compareSnapshot(engine.Snapshot(), want, open)
		if mismatch == "" {
			return
		}
	}
	t.Fatalf("engine did not converge: %s", mismatch)
}

func compareSnapshot(s *reconcile.Snapshot, want pool.Set, open pool.IDSet) string {
	if !s.Loaded {
		return "not loaded"
	}
	if !s.Disjoint() {
		return "pools overlap"
	}
	for _, name := range pool.Names[1:] {
		got, exp := ids(s.Pools.Pool(name)), ids(want.Pool(name))
		if fmt.Sprint(got) != fmt.Sprint(exp) {
			return fmt.Sprintf("%s: expected %v, got %v", name, exp, got)
		}
	}
	for _, c := range s.Discovery() {
		if !open.Has(c.ID) {
			return fmt.Sprintf("discovery shows case %d which is no longer open", c.ID)
		}
	}
	return ""
}

func ids(list []cases.Case) []int64 {
	out := make([]int64, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func resolveDatabase(t *testing.T, ctx context.Context) (string, bool, *infra.PGContainer) {
	t.Helper()
	switch {
	case *flDSN != "":
		return *flDSN, true, &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		return os.Getenv("STRESS_TEST_PG_DSN"), true, &infra.PGContainer{}
	case dockerAvailable(ctx):
		pgC, dsn, err := infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
		return dsn, false, pgC
	default:
		dsn, err := infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no database available: %v", err)
		}
		return dsn, false, &infra.PGContainer{}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, db *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"cases", `SELECT id, status, client_id, assigned_professional_id, deleted_at FROM cases ORDER BY updated_at DESC LIMIT 30`},
		{"offers", `SELECT id, case_id, professional_id, status, updated_at FROM offers ORDER BY updated_at DESC LIMIT 30`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 30`},
	}
	for _, d := range dumps {
		rows, err := db.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
