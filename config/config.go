// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full API process configuration.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"8"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	// Settlement identities.
	PlatformWallet string `env:"PLATFORM_WALLET,required"`

	// Custody gateway; empty selects the in-process ledger (dev only).
	LedgerURL string `env:"LEDGER_URL"`

	// Payment gate.
	FacilitatorURL     string        `env:"FACILITATOR_URL"`
	FacilitatorTimeout time.Duration `env:"FACILITATOR_TIMEOUT" envDefault:"5s"`
	PaymentCurrency    string        `env:"PAYMENT_CURRENCY" envDefault:"USDC"`
	PaymentNetwork     string        `env:"PAYMENT_NETWORK" envDefault:"devnet"`
	RateLimit          int64         `env:"RATE_LIMIT" envDefault:"60"`
	RateWindow         time.Duration `env:"RATE_WINDOW" envDefault:"1m"`

	// Dataset catalog file (JSON array of datasets served by the paygate).
	DatasetsFile string `env:"DATASETS_FILE"`

	// Chain sync.
	DurableStoreURL string        `env:"DURABLE_STORE_URL"`
	SyncInterval    time.Duration `env:"SYNC_INTERVAL" envDefault:"5s"`
	SyncWorkers     int           `env:"SYNC_WORKERS" envDefault:"4"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
