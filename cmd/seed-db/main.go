// Command seed-db loads the demo catalog and coupon set into the database.
// It is idempotent: products upsert by SKU, coupons by code.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vstarostin/cart-discount-service/internal/repository"
)

type productJSON struct {
	SKU   string          `json:"sku"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type seedCoupon struct {
	code              string
	kind              string
	value             decimal.Decimal
	maxDiscountCents  *int64
	minCartTotalCents *int64
	minCartItems      *int32
	maxUses           *int32
	autoApply         bool
	restrictedSKUs    []string
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

const upsertProductSQL = `
INSERT INTO products (sku, name, price_cents)
VALUES ($1, $2, $3)
ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		priceCents := p.Price.Shift(2).IntPart()
		if _, err := pool.Exec(ctx, upsertProductSQL, p.SKU, p.Name, priceCents); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.SKU)
		}
		slog.Info("upserted product", slog.String("sku", p.SKU), slog.String("name", p.Name))
	}

	return nil
}

const upsertCouponSQL = `
INSERT INTO coupons (code, kind, value, max_discount_cents, min_cart_total_cents, min_cart_items, max_uses, auto_apply)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (code) DO UPDATE SET
    kind                 = EXCLUDED.kind,
    value                = EXCLUDED.value,
    max_discount_cents   = EXCLUDED.max_discount_cents,
    min_cart_total_cents = EXCLUDED.min_cart_total_cents,
    min_cart_items       = EXCLUDED.min_cart_items,
    max_uses             = EXCLUDED.max_uses,
    auto_apply           = EXCLUDED.auto_apply
RETURNING id`

const linkCouponProductSQL = `
INSERT INTO coupon_products (coupon_id, product_id)
SELECT $1, id FROM products WHERE sku = $2
ON CONFLICT DO NOTHING`

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	coupons := []seedCoupon{
		{
			code:      "WELCOME10",
			kind:      "percentage",
			value:     decimal.NewFromInt(10),
			autoApply: true,
		},
		{
			code:  "SAVE5",
			kind:  "fixed",
			value: decimal.NewFromInt(5),
		},
		{
			code:         "BULK15",
			kind:         "percentage",
			value:        decimal.NewFromInt(15),
			minCartItems: ptr[int32](3),
		},
		{
			code:             "VIP50",
			kind:             "percentage",
			value:            decimal.NewFromInt(50),
			maxDiscountCents: ptr[int64](2000),
			maxUses:          ptr[int32](100),
		},
		{
			code:              "BIGSPENDER",
			kind:              "fixed",
			value:             decimal.NewFromInt(20),
			minCartTotalCents: ptr[int64](10000),
		},
		{
			code:           "COFFEE20",
			kind:           "percentage",
			value:          decimal.NewFromInt(20),
			restrictedSKUs: []string{"COFFEE-1KG", "COFFEE-250G"},
		},
	}

	for _, c := range coupons {
		var id int64
		err := pool.QueryRow(ctx, upsertCouponSQL,
			c.code, c.kind, c.value,
			c.maxDiscountCents, c.minCartTotalCents, c.minCartItems, c.maxUses,
			c.autoApply,
		).Scan(&id)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		for _, sku := range c.restrictedSKUs {
			if _, err := pool.Exec(ctx, linkCouponProductSQL, id, sku); err != nil {
				return errors.Wrapf(err, "link coupon %s to %s", c.code, sku)
			}
		}

		slog.Info("upserted coupon", slog.String("code", c.code), slog.String("kind", c.kind))
	}

	return nil
}

func ptr[T any](v T) *T { return &v }
