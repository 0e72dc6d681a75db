package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// Column order of the import files.
const (
	colCode = iota
	colDiscountType
	colValue
	colCourseIDs
	colMaxUses
	colValidFrom
	colValidUntil
)

type importer struct {
	lg        *zap.Logger
	repo      *postgres.CouponRepository
	filter    *bloom.BloomFilter
	batchSize int
	createdBy string
	now       func() time.Time

	read, rejected, duplicates, inserted int64
}

func main() {
	var (
		pattern     string
		databaseURL string
		batchSize   int
		createdBy   string
	)

	flag.StringVar(&pattern, "files", "data/coupons-*.csv.gz", "glob of gzip'd CSV coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 1000, "coupons per insert batch")
	flag.StringVar(&createdBy, "created-by", "coupon-import", "value recorded as the coupon creator")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		lg.Fatal("Bad file pattern", zap.Error(err))
	}
	if len(files) == 0 {
		lg.Fatal("No files match", zap.String("pattern", pattern))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, files, databaseURL, batchSize, createdBy); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, files []string, databaseURL string, batchSize int, createdBy string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	imp := &importer{
		lg:        lg,
		repo:      postgres.NewCouponRepository(pool),
		filter:    bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		batchSize: batchSize,
		createdBy: createdBy,
		now:       time.Now,
	}

	var existing int
	if err := imp.repo.Codes(ctx, func(code string) {
		imp.filter.AddString(code)
		existing++
	}); err != nil {
		return errors.Wrap(err, "load existing codes")
	}
	lg.Info("Loaded existing codes", zap.Int("count", existing), zap.Int("files", len(files)))

	if err := imp.importFiles(ctx, files); err != nil {
		return err
	}

	lg.Info("Import summary",
		zap.Int64("read", imp.read),
		zap.Int64("rejected", imp.rejected),
		zap.Int64("duplicates", imp.duplicates),
		zap.Int64("inserted", imp.inserted),
	)
	return nil
}

// importFiles parses files concurrently and funnels coupons to a single
// writer that deduplicates and batches them.
func (imp *importer) importFiles(ctx context.Context, files []string) error {
	out := make(chan *coupon.Coupon, imp.batchSize)

	g, ctx := errgroup.WithContext(ctx)

	readers, rctx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(func() error {
			return imp.readFile(rctx, f, out)
		})
	}
	g.Go(func() error {
		defer close(out)
		return readers.Wait()
	})
	g.Go(func() error {
		return imp.write(ctx, out)
	})

	return g.Wait()
}

func (imp *importer) readFile(ctx context.Context, path string, out chan<- *coupon.Coupon) error {
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

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	lg := imp.lg.With(zap.String("file", filepath.Base(path)))
	var line int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return errors.Wrapf(err, "read %s line %d", path, line)
		}
		if line == 1 && strings.EqualFold(rec[0], "code") {
			continue
		}

		c, err := parseRecord(rec, imp.now(), imp.createdBy)
		if err != nil {
			lg.Warn("Rejected row", zap.Int("line", line), zap.Error(err))
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	lg.Info("File complete", zap.Int("lines", line))
	return nil
}

// write is the only consumer of in, so the counters and filter need no
// locking. A nil coupon marks a rejected row.
func (imp *importer) write(ctx context.Context, in <-chan *coupon.Coupon) error {
	batch := make([]*coupon.Coupon, 0, imp.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := imp.repo.Import(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "import batch")
		}
		imp.inserted += n
		imp.duplicates += int64(len(batch)) - n
		batch = batch[:0]
		return nil
	}

	for c := range in {
		imp.read++
		if imp.read%progressEvery == 0 {
			imp.lg.Info("Progress", zap.Int64("read", imp.read), zap.Int64("inserted", imp.inserted))
		}
		if c == nil {
			imp.rejected++
			continue
		}

		if imp.filter.TestString(c.Code) {
			dup, err := imp.exists(ctx, c.Code, batch)
			if err != nil {
				return err
			}
			if dup {
				imp.duplicates++
				continue
			}
		}
		imp.filter.AddString(c.Code)

		batch = append(batch, c)
		if len(batch) >= imp.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// exists resolves a bloom filter hit against the pending batch and the
// database.
func (imp *importer) exists(ctx context.Context, code string, pending []*coupon.Coupon) (bool, error) {
	for _, p := range pending {
		if p.Code == code {
			return true, nil
		}
	}
	_, err := imp.repo.FindByCode(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, coupon.ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrapf(err, "check code %s", code)
	}
}

// parseRecord converts one CSV row into a validated coupon.
func parseRecord(rec []string, now time.Time, createdBy string) (*coupon.Coupon, error) {
	if len(rec) < colCourseIDs {
		return nil, errors.Errorf("want at least %d columns, got %d", colCourseIDs, len(rec))
	}
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	c := &coupon.Coupon{
		ID:           uuid.New().String(),
		Code:         coupon.NormalizeCode(field(colCode)),
		DiscountType: coupon.DiscountType(strings.ToLower(field(colDiscountType))),
		Active:       true,
		CreatedBy:    createdBy,
		CreatedAt:    now,
	}
	if c.Code == "" {
		return nil, errors.New("empty code")
	}

	value, err := decimal.NewFromString(field(colValue))
	if err != nil {
		return nil, errors.Wrap(err, "parse value")
	}
	c.Value = value

	if ids := field(colCourseIDs); ids != "" {
		for _, id := range strings.Split(ids, ";") {
			if id = strings.TrimSpace(id); id != "" {
				c.CourseIDs = append(c.CourseIDs, id)
			}
		}
	}
	if v := field(colMaxUses); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "parse max_uses")
		}
		c.MaxUses = n
	}
	if c.ValidFrom, err = parseTime(field(colValidFrom)); err != nil {
		return nil, errors.Wrap(err, "parse valid_from")
	}
	if c.ValidUntil, err = parseTime(field(colValidUntil)); err != nil {
		return nil, errors.Wrap(err, "parse valid_until")
	}

	if err := c.ValidateTerms(); err != nil {
		return nil, errors.Wrapf(err, "coupon %s", c.Code)
	}
	return c, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
