// Package results implements the persisted, generation-stacked hit store.
//
// Every catalog lives in an embedded SQLite database. Each search round
// writes into its own table; committed tables form a stack of generations
// recorded in a shared "generations" table. Only the top generation is read by
// continuation rounds and only an open Round writes, so a failed round never
// touches the previous generation.
package results

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrInvalidCatalog is returned for catalog names that cannot be used as a
	// table prefix.
	ErrInvalidCatalog = errors.New("invalid catalog name")
	// ErrRoundInProgress is returned by Begin while another round is open.
	ErrRoundInProgress = errors.New("round already in progress")
	// ErrEmpty is returned by operations that need a committed generation.
	ErrEmpty = errors.New("no results")
	// ErrClosed is returned after Close or Drop.
	ErrClosed = errors.New("results store closed")
)

var catalogName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// Entry is one persisted hit.
type Entry struct {
	Address uint64
	Value   []byte
}

// Meta describes the read shape of a generation.
type Meta struct {
	Kind   string
	Width  int
	Signed bool
}

// Generation is one committed round.
type Generation struct {
	Seq       int
	Meta      Meta
	Count     int64
	CreatedAt time.Time
}

type generation struct {
	ID        uint   `gorm:"primaryKey"`
	Catalog   string `gorm:"index;not null"`
	Seq       int    `gorm:"not null"`
	Rows      string `gorm:"not null"`
	Kind      string
	Width     int
	Signed    bool
	Count     int64
	CreatedAt time.Time
}

func (generation) TableName() string { return "generations" }

func (g *generation) public() Generation {
	return Generation{
		Seq:       g.Seq,
		Meta:      Meta{Kind: g.Kind, Width: g.Width, Signed: g.Signed},
		Count:     g.Count,
		CreatedAt: g.CreatedAt,
	}
}

type row struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	Address int64
	Value   []byte
}

// Options configures a Store.
type Options struct {
	// BatchSize is the number of rows per INSERT statement.
	BatchSize int
	// PageSize is the number of rows fetched per Iterate callback.
	PageSize int
	// Logger is the gorm logger. Defaults to a silent logger.
	Logger logger.Interface
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		BatchSize: 1000,
		PageSize:  10000,
		Logger:    logger.Default.LogMode(logger.Silent),
	}
}

// Option mutates Options.
type Option func(*Options)

// WithBatchSize sets the insert batch size.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

// WithPageSize sets the iteration page size.
func WithPageSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.PageSize = n
		}
	}
}

// WithLogger sets the gorm logger.
func WithLogger(l logger.Interface) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// Store is the generation stack of one catalog.
type Store struct {
	mu      sync.Mutex
	db      *gorm.DB
	catalog string
	opts    Options
	round   *Round
	closed  bool
}

// Open opens (or creates) the SQLite database at path and binds it to catalog.
func Open(path, catalog string, optFns ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("results: 'path' is required")
	}
	if !catalogName.MatchString(catalog) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCatalog, catalog)
	}

	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		CreateBatchSize:        opts.BatchSize,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&generation{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate results database: %w", err)
	}

	return &Store{db: db, catalog: catalog, opts: opts}, nil
}

// Catalog returns the catalog name.
func (s *Store) Catalog() string { return s.catalog }

// Close releases the database. An open round is aborted.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	r := s.round
	s.mu.Unlock()

	if r != nil {
		_ = r.Abort()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) tableName(seq int) string {
	return fmt.Sprintf("%s_g%d", s.catalog, seq)
}

func quote(name string) string { return `"` + name + `"` }

// top returns the top generation, or nil when the stack is empty.
func (s *Store) top(db *gorm.DB) (*generation, error) {
	var gens []generation
	err := db.Where("catalog = ?", s.catalog).Order("seq DESC").Limit(1).Find(&gens).Error
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, nil
	}
	return &gens[0], nil
}

func (s *Store) mustTop() (*generation, error) {
	if s.closed {
		return nil, ErrClosed
	}
	g, err := s.top(s.db)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrEmpty
	}
	return g, nil
}

// Top returns the top generation.
func (s *Store) Top() (Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.mustTop()
	if err != nil {
		return Generation{}, err
	}
	return g.public(), nil
}

// Generations lists committed generations, bottom first.
func (s *Store) Generations() ([]Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var gens []generation
	if err := s.db.Where("catalog = ?", s.catalog).Order("seq ASC").Find(&gens).Error; err != nil {
		return nil, err
	}
	out := make([]Generation, len(gens))
	for i := range gens {
		out[i] = gens[i].public()
	}
	return out, nil
}

// Depth returns the number of committed generations.
func (s *Store) Depth() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int64
	err := s.db.Model(&generation{}).Where("catalog = ?", s.catalog).Count(&n).Error
	return int(n), err
}

// Count returns the number of hits in the top generation, zero when empty.
func (s *Store) Count() (int64, error) {
	g, err := s.Top()
	if errors.Is(err, ErrEmpty) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return g.Count, nil
}

// Width returns the per-entry value width of the top generation.
func (s *Store) Width() (int, error) {
	g, err := s.Top()
	if err != nil {
		return 0, err
	}
	return g.Meta.Width, nil
}

func toEntries(rows []row) []Entry {
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Address: uint64(r.Address), Value: r.Value}
	}
	return out
}

// Iterate walks the top generation in insertion order, one page per call to
// fn. Pages are fetched by keyset so memory stays bounded by the page size.
func (s *Store) Iterate(ctx context.Context, fn func([]Entry) error) error {
	s.mu.Lock()
	g, err := s.mustTop()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	var last int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rows []row
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		err := s.db.WithContext(ctx).Table(g.Rows).
			Where("id > ?", last).Order("id ASC").Limit(s.opts.PageSize).
			Find(&rows).Error
		s.mu.Unlock()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		last = rows[len(rows)-1].ID

		if err := fn(toEntries(rows)); err != nil {
			return err
		}
		if len(rows) < s.opts.PageSize {
			return nil
		}
	}
}

// Page returns up to limit entries of the top generation ordered by address.
func (s *Store) Page(offset, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.mustTop()
	if err != nil {
		return nil, err
	}
	var rows []row
	err = s.db.Table(g.Rows).Order("address ASC").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

// Lookup returns the entry at addr in the top generation.
func (s *Store) Lookup(addr uint64) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.mustTop()
	if err != nil {
		return Entry{}, false, err
	}
	var rows []row
	if err := s.db.Table(g.Rows).Where("address = ?", int64(addr)).Limit(1).Find(&rows).Error; err != nil {
		return Entry{}, false, err
	}
	if len(rows) == 0 {
		return Entry{}, false, nil
	}
	return toEntries(rows)[0], true, nil
}

// Remove deletes addrs from the top generation and returns the number of
// entries removed.
func (s *Store) Remove(addrs []uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.round != nil {
		return 0, ErrRoundInProgress
	}
	g, err := s.mustTop()
	if err != nil {
		return 0, err
	}

	var removed int64
	err = s.db.Transaction(func(tx *gorm.DB) error {
		const chunk = 500
		for i := 0; i < len(addrs); i += chunk {
			part := addrs[i:min(i+chunk, len(addrs))]
			keys := make([]int64, len(part))
			for j, a := range part {
				keys[j] = int64(a)
			}
			res := tx.Table(g.Rows).Where("address IN ?", keys).Delete(&row{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		return tx.Model(&generation{}).Where("id = ?", g.ID).
			Update("count", g.Count-removed).Error
	})
	return removed, err
}

// Pop discards the top generation and its table.
func (s *Store) Pop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.round != nil {
		return ErrRoundInProgress
	}
	g, err := s.mustTop()
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return dropGeneration(tx, g)
	})
}

// Reset discards every generation of the catalog.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.round != nil {
		return ErrRoundInProgress
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.dropAll(tx)
	})
}

// Drop deletes the catalog's generations and closes the store.
func (s *Store) Drop() error {
	if err := s.Reset(); err != nil {
		return err
	}
	return s.Close()
}

func (s *Store) dropAll(tx *gorm.DB) error {
	var gens []generation
	if err := tx.Where("catalog = ?", s.catalog).Find(&gens).Error; err != nil {
		return err
	}
	for i := range gens {
		if err := dropGeneration(tx, &gens[i]); err != nil {
			return err
		}
	}
	return nil
}

func dropGeneration(tx *gorm.DB, g *generation) error {
	if err := tx.Exec("DROP TABLE IF EXISTS " + quote(g.Rows)).Error; err != nil {
		return err
	}
	return tx.Delete(&generation{}, g.ID).Error
}

// AddressSet returns the addresses of the top generation as a bitmap.
func (s *Store) AddressSet(ctx context.Context) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	err := s.Iterate(ctx, func(page []Entry) error {
		for _, e := range page {
			bm.Add(e.Address)
		}
		return nil
	})
	if errors.Is(err, ErrEmpty) {
		return bm, nil
	}
	return bm, err
}
