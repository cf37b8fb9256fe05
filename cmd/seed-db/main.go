// Command seed-db populates the card-design catalog, promo rules, and a
// back-office API key for local development and integration testing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cardforge/storefront/internal/httpapi"
	"github.com/cardforge/storefront/internal/storage/postgres"
)

type design struct {
	id    string
	name  string
	metal string
	price string
}

var designs = []design{
	{id: "classic-black", name: "Classic Black", metal: "stainless", price: "250000"},
	{id: "brushed-steel", name: "Brushed Steel", metal: "stainless", price: "300000"},
	{id: "gold-24k", name: "24K Gold Plated", metal: "gold", price: "900000"},
	{id: "titan-gray", name: "Titanium Gray", metal: "titanium", price: "550000"},
}

type rule struct {
	code         string
	discountType string
	value        string
	minSubtotal  string
	description  string
}

var rules = []rule{
	{code: "WELCOME10", discountType: "percentage", value: "10", minSubtotal: "0", description: "10% off the first order"},
	{code: "METAL50K", discountType: "fixed", value: "50000", minSubtotal: "500000", description: "50 000 off orders over 500 000"},
}

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "back-office API key to seed (or CARD_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CARD_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CARD_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CARD_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed")
}

func run(ctx context.Context, databaseURL, apiKey, apiKeyPepper string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return seedDesigns(ctx, pool) })
	g.Go(func() error { return seedRules(ctx, pool) })
	if apiKey != "" {
		g.Go(func() error { return seedAPIKey(ctx, pool, apiKey, apiKeyPepper) })
	}
	return g.Wait()
}

func seedDesigns(ctx context.Context, pool *pgxpool.Pool) error {
	for _, d := range designs {
		price, err := decimal.NewFromString(d.price)
		if err != nil {
			return errors.Wrapf(err, "price for %s", d.id)
		}
		_, err = pool.Exec(ctx,
			`INSERT INTO card_designs (id, name, metal, price)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET name = $2, metal = $3, price = $4, active = TRUE`,
			d.id, d.name, d.metal, price,
		)
		if err != nil {
			return errors.Wrapf(err, "seed design %s", d.id)
		}
	}
	slog.Info("designs seeded", slog.Int("count", len(designs)))
	return nil
}

func seedRules(ctx context.Context, pool *pgxpool.Pool) error {
	for _, r := range rules {
		_, err := pool.Exec(ctx,
			`INSERT INTO promo_rules (code, discount_type, value, min_subtotal, description)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (code) DO UPDATE SET discount_type = $2, value = $3, min_subtotal = $4, description = $5, active = TRUE`,
			r.code, r.discountType, r.value, r.minSubtotal, r.description,
		)
		if err != nil {
			return errors.Wrapf(err, "seed rule %s", r.code)
		}
	}
	slog.Info("promo rules seeded", slog.Int("count", len(rules)))
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, key, pepper string) error {
	hash := httpapi.HashKey([]byte(pepper), key)
	_, err := pool.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, name, scopes)
		 VALUES ('seed', $1, 'seed admin key', ARRAY['orders:write'])
		 ON CONFLICT (id) DO UPDATE SET key_hash = $1`,
		hash,
	)
	if err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("api key seeded")
	return nil
}
