package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"casedesk/auth"
	"casedesk/cases"
	"casedesk/channel"
	"casedesk/config"
	"casedesk/db"
	"casedesk/notify"
	"casedesk/offer"
	"casedesk/professional"
)

func main() {
	configPath := flag.String("config", os.Getenv("CASEDESK_CONFIG"), "path to casedesk.yaml")
	flag.Parse()

	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Server.JWTSecret == "" {
		log.Fatalf("CASEDESK_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Server.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.Server.DBMaxConns,
		MinConns:        cfg.Server.DBMinConns,
		MaxConnIdleTime: cfg.Server.DBMaxConnIdle,
	})
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	authService := auth.NewService(auth.NewRepository(pool), cfg.Server.JWTSecret)
	hub := channel.NewHub(authService, log.Default())
	offerRepo := offer.NewRepository(pool)

	server := &Server{
		authService:         authService,
		caseRepo:            cases.NewRepository(pool),
		statusService:       cases.NewStatusService(pool),
		offerRepo:           offerRepo,
		professionalService: professional.NewService(professional.NewRepository(pool)),
		hub:                 hub,
	}
	relay := notify.NewRelay(
		notify.NewPGOutbox(pool, cfg.Relay.MaxAttempts),
		hub,
		cfg.Relay.Interval,
		cfg.Relay.Batch,
		log.Default(),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("casedesk api listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.DropAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCanceled(relay.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(expireOffers(gctx, offerRepo, cfg.Server.OfferTTL, cfg.Server.ExpiryEvery))
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("casedesk api: %v", err)
	}
	log.Printf("casedesk api stopped")
}

type offerExpirer interface {
	ExpireSubmitted(ctx context.Context, before time.Time) (int, error)
}

// expireOffers moves SUBMITTED offers older than ttl to EXPIRED every tick.
func expireOffers(ctx context.Context, repo offerExpirer, ttl, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		n, err := repo.ExpireSubmitted(ctx, time.Now().Add(-ttl))
		if err != nil {
			log.Printf("expire offers: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("expired %d offers", n)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
