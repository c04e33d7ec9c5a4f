// Command coupon-ingest bulk-loads promo codes into the coupons table.
//
// It streams every couponbase*.gz file in the data directory concurrently,
// dedupes codes with a bloom filter, applies discount rules from a JSON rules
// file, and upserts the results in batches. Codes must be 8-10 uppercase
// alphanumeric characters; everything else is skipped.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vstarostin/cart-discount-service/internal/repository"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	minCodeLen    = 8
	maxCodeLen    = 10
	batchSize     = 500
	progressEvery = 1_000_000
)

// rule is the coupon configuration applied to an ingested code.
type rule struct {
	kind              string
	value             decimal.Decimal
	maxDiscountCents  *int64
	minCartTotalCents *int64
	minCartItems      *int32
	maxUses           *int32
	autoApply         bool
}

// ruleSet is the parsed rules file: a default rule plus per-code overrides.
type ruleSet struct {
	defaultRule rule
	overrides   map[string]rule
}

func (rs *ruleSet) forCode(code string) rule {
	if r, ok := rs.overrides[code]; ok {
		return r
	}
	return rs.defaultRule
}

func main() {
	var (
		dataDir     string
		rulesFile   string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbase*.gz files")
	flag.StringVar(&rulesFile, "rules-file", "data/rules.json", "path to discount rules JSON")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	if err := run(ctx, dataDir, rulesFile, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, rulesFile, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "couponbase*.gz"))
	if err != nil {
		return errors.Wrap(err, "glob data dir")
	}
	if len(files) == 0 {
		return errors.Errorf("no couponbase*.gz files in %s", dataDir)
	}

	rules, err := loadRules(rulesFile)
	if err != nil {
		return errors.Wrap(err, "load rules")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return ingest(ctx, pool, files, rules)
}

// ingest streams all files concurrently into a deduped code channel consumed
// by a single batching writer.
func ingest(ctx context.Context, pool *pgxpool.Pool, files []string, rules *ruleSet) error {
	slog.Info("ingesting coupon files", slog.Int("files", len(files)))

	var (
		mu     sync.Mutex
		seen   = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		codes  = make(chan string, 4*batchSize)
		gWrite errgroup.Group
	)

	var written int64
	gWrite.Go(func() error {
		n, err := writeCoupons(ctx, pool, codes, rules)
		written = n
		return err
	})

	gRead, readCtx := errgroup.WithContext(ctx)
	for _, path := range files {
		gRead.Go(func() error {
			var count uint64
			err := streamGzFile(readCtx, path, func(code string) error {
				if !validCode(code) {
					return nil
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("ingest progress",
						slog.String("file", filepath.Base(path)),
						slog.Uint64("codes", count),
					)
				}

				mu.Lock()
				dup := seen.TestOrAddString(code)
				mu.Unlock()
				if dup {
					return nil
				}

				select {
				case codes <- code:
					return nil
				case <-readCtx.Done():
					return readCtx.Err()
				}
			})
			if err != nil {
				return errors.Wrapf(err, "stream %s", path)
			}
			slog.Info("file complete",
				slog.String("file", filepath.Base(path)),
				slog.Uint64("total_codes", count),
			)
			return nil
		})
	}

	readErr := gRead.Wait()
	close(codes)
	writeErr := gWrite.Wait()

	if readErr != nil {
		return errors.Wrap(readErr, "read files")
	}
	if writeErr != nil {
		return errors.Wrap(writeErr, "write coupons")
	}

	slog.Info("ingest done", slog.Int64("coupons_written", written))
	return nil
}

func validCode(code string) bool {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	return errors.Wrapf(scanner.Err(), "scan %s", path)
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
    auto_apply           = EXCLUDED.auto_apply`

// writeCoupons drains the codes channel, upserting in batches of batchSize.
// Existing uses and version columns are left untouched on conflict.
func writeCoupons(ctx context.Context, pool *pgxpool.Pool, codes <-chan string, rules *ruleSet) (int64, error) {
	var (
		batch   pgx.Batch
		written int64
	)

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := pool.SendBatch(ctx, &batch).Close(); err != nil {
			return errors.Wrap(err, "send batch")
		}
		written += int64(batch.Len())
		if written%(10*batchSize) == 0 {
			slog.Info("write progress", slog.Int64("written", written))
		}
		batch = pgx.Batch{}
		return nil
	}

	for code := range codes {
		r := rules.forCode(code)
		batch.Queue(upsertCouponSQL,
			code, r.kind, r.value,
			r.maxDiscountCents, r.minCartTotalCents, r.minCartItems, r.maxUses,
			r.autoApply,
		)
		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	return written, flush()
}

// loadRules parses the rules JSON:
//
//	{
//	  "default": {"kind": "percentage", "value": "10"},
//	  "overrides": [
//	    {"code": "FIFTYOFF", "kind": "percentage", "value": "50", "maxDiscountCents": 2500}
//	  ]
//	}
func loadRules(path string) (*ruleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	rs := &ruleSet{
		defaultRule: rule{kind: "percentage", value: decimal.NewFromInt(10)},
		overrides:   make(map[string]rule),
	}

	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "default":
			r, _, err := decodeRule(d)
			if err != nil {
				return errors.Wrap(err, "default rule")
			}
			rs.defaultRule = r
			return nil
		case "overrides":
			return d.Arr(func(d *jx.Decoder) error {
				r, code, err := decodeRule(d)
				if err != nil {
					return errors.Wrap(err, "override rule")
				}
				if code == "" {
					return errors.New("override rule missing code")
				}
				rs.overrides[code] = r
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	return rs, nil
}

func decodeRule(d *jx.Decoder) (rule, string, error) {
	var (
		r    rule
		code string
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			code = v
			return err
		case "kind":
			v, err := d.Str()
			if err != nil {
				return err
			}
			if v != "fixed" && v != "percentage" {
				return errors.Errorf("unknown kind %q", v)
			}
			r.kind = v
			return nil
		case "value":
			s, err := d.Str()
			if err != nil {
				return err
			}
			v, err := decimal.NewFromString(s)
			if err != nil {
				return errors.Wrapf(err, "parse value %q", s)
			}
			r.value = v
			return nil
		case "maxDiscountCents":
			v, err := d.Int64()
			r.maxDiscountCents = &v
			return err
		case "minCartTotalCents":
			v, err := d.Int64()
			r.minCartTotalCents = &v
			return err
		case "minCartItems":
			v, err := d.Int32()
			r.minCartItems = &v
			return err
		case "maxUses":
			v, err := d.Int32()
			r.maxUses = &v
			return err
		case "autoApply":
			v, err := d.Bool()
			r.autoApply = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return rule{}, "", err
	}
	if r.kind == "" {
		return rule{}, "", errors.New("rule missing kind")
	}
	return r, code, nil
}
