package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"datanexus/auth"
	"datanexus/chainsync"
	"datanexus/config"
	"datanexus/db"
	"datanexus/dispute"
	"datanexus/escrow"
	"datanexus/facilitator"
	"datanexus/ledger"
	"datanexus/paygate"
	"datanexus/rating"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	var ledgerClient ledger.Client
	if cfg.LedgerURL != "" {
		ledgerClient = ledger.NewRPC(cfg.LedgerURL, 15*time.Second)
	} else {
		log.Printf("no LEDGER_URL configured, using in-process ledger (dev only)")
		ledgerClient = ledger.NewMemory()
	}

	var durable chainsync.DurableStore
	if cfg.DurableStoreURL != "" {
		durable = chainsync.NewHTTPDurableStore(cfg.DurableStoreURL, 30*time.Second)
	} else {
		log.Printf("no DURABLE_STORE_URL configured, using in-process durable store (dev only)")
		durable = chainsync.NewMemoryDurableStore()
	}
	syncService := chainsync.NewService(chainsync.NewRepository(pool), durable, ledgerClient).
		WithWorkers(cfg.SyncWorkers, 32)

	escrowService := escrow.NewService(ledgerClient, escrow.NewRepository(pool), syncService)
	disputeService := dispute.NewService(dispute.NewRepository(pool), escrowService, syncService)
	ratingService := rating.NewService(rating.NewRepository(pool), escrowService, syncService)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	verifier := paygate.NewVerifier(facilitator.NewClient(cfg.FacilitatorTimeout), ledgerClient)
	gate := paygate.NewGate(verifier, paygate.NewProofStore(pool), paygate.NewCounterStore(pool)).
		WithRateLimit(cfg.RateLimit, cfg.RateWindow)

	catalog, err := loadCatalog(cfg.DatasetsFile)
	if err != nil {
		log.Fatalf("bootstrap dataset catalog: %v", err)
	}

	server := &Server{
		authService:    authService,
		escrowService:  escrowService,
		disputeService: disputeService,
		ratingService:  ratingService,
		gate:           gate,
		datasets:       catalog,
		platformWallet: cfg.PlatformWallet,
		currency:       cfg.PaymentCurrency,
		network:        cfg.PaymentNetwork,
		facilitatorURL: cfg.FacilitatorURL,
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("api listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := syncService.Run(gctx, cfg.SyncInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("api: %v", err)
	}
}

// loadCatalog reads the dataset table served behind the payment gate. An
// empty path yields an empty catalog.
func loadCatalog(path string) (StaticCatalog, error) {
	catalog := StaticCatalog{}
	if path == "" {
		return catalog, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var datasets []Dataset
	if err := json.Unmarshal(raw, &datasets); err != nil {
		return nil, err
	}
	for _, ds := range datasets {
		catalog[ds.ID] = ds
	}
	return catalog, nil
}
