package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bidhall.org/internal/auction"
	"bidhall.org/internal/config"
	"bidhall.org/internal/httpapi"
	"bidhall.org/internal/migrate"
	"bidhall.org/internal/obs"
	"bidhall.org/internal/oracle"
	"bidhall.org/internal/rail"
	"bidhall.org/internal/registry"
	"bidhall.org/internal/store/pg"
	"bidhall.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("BIDHALL_CONFIG"), "Path to TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	quotes, err := oracle.NewFixedRates(cfg.Oracle.Rates)
	if err != nil {
		log.Fatalf("oracle: %v", err)
	}

	native := rail.NewNative(cfg.Rails.Native)
	rails := map[string]auction.Rail{}
	tokenRails := map[string]*rail.Memory{}
	for _, name := range cfg.Rails.Tokens {
		r := rail.NewToken(name)
		rails[name] = r
		tokenRails[name] = r
	}

	assets := registry.NewMemory(cfg.Registry.Name)
	feed := stream.New()

	var archiver auction.Archiver
	var store *pg.Store
	if cfg.Store.Enabled {
		store, err = pg.Open(cfg.Store.DSN)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer store.Close()
		if cfg.Store.RunMigrations {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := migrate.NewManager(store.DB(), "migrations", "").Up(ctx); err != nil {
				cancel()
				log.Fatalf("migrations: %v", err)
			}
			cancel()
		}
		archiver = store
	}

	led := auction.New(auction.Config{
		Admin:    cfg.Auth.AdminParty,
		Oracle:   quotes,
		Native:   native,
		Sink:     feed.Publish,
		Archiver: archiver,
		OnArchiveError: func(err error) {
			obs.LogEntry(map[string]any{"level": "error", "msg": "archive_failed", "error": err.Error()})
		},
	})

	if store != nil {
		if err := restoreFromStore(led, store, native, rails, assets); err != nil {
			log.Fatalf("restore: %v", err)
		}
	}

	if cfg.Demo.Enabled {
		seedDemoFixtures(cfg, native, tokenRails, assets)
	}

	api := httpapi.New(httpapi.Options{
		Ledger:   led,
		Stream:   feed,
		Ready:    readyProbe(store),
		Registry: assets,
		Rails:    rails,
		Version:  version,

		TokenTTL:  cfg.Auth.TokenTTL.Duration,
		DevTokens: cfg.Auth.DevTokens,

		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Starting bidhall-api %s on %s", version, srv.Addr)
		obs.SetReady(true)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Escrow gauge follows the rails' held balances.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				obs.EscrowHeld.WithLabelValues(native.ID()).Set(float64(native.Held()))
				for name, r := range tokenRails {
					obs.EscrowHeld.WithLabelValues(name).Set(float64(r.Held()))
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		obs.SetReady(false)
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("serve: %v", err)
	}
	log.Println("Stopped")
}

func readyProbe(store *pg.Store) httpapi.ReadyProbe {
	if store == nil {
		return httpapi.ReadyProbe{}
	}
	return httpapi.ReadyProbe{DB: store.DB()}
}

func restoreFromStore(led *auction.Ledger, store *pg.Store, native *rail.Memory, rails map[string]auction.Rail, assets *registry.Memory) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snaps, err := store.LoadAuctions(ctx)
	if err != nil {
		return err
	}
	escrows, err := store.LoadEscrow(ctx)
	if err != nil {
		return err
	}
	lastSeq, err := store.LastSeq(ctx)
	if err != nil {
		return err
	}
	return led.Restore(snaps, escrows, lastSeq, auction.RestoreDeps{
		RailByID: func(id string) auction.Rail {
			if id == native.ID() {
				return native
			}
			return rails[id]
		},
		RegistryByID: func(id string) auction.AssetRegistry {
			if id == assets.ID() {
				return assets
			}
			return nil
		},
	})
}

func seedDemoFixtures(cfg *config.Config, native *rail.Memory, tokens map[string]*rail.Memory, assets *registry.Memory) {
	for _, a := range cfg.Demo.Assets {
		assets.Mint(a.ID, a.Owner)
		assets.Approve(a.ID, true)
	}
	for party, amount := range cfg.Demo.Balances {
		native.Mint(party, amount)
		for _, r := range tokens {
			r.Mint(party, amount)
		}
	}
}
