package results

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Mode selects how a committed round relates to the current stack.
type Mode int

const (
	// ModeReplace replaces the top generation (fresh search).
	ModeReplace Mode = iota
	// ModePush pushes a new generation (continuation).
	ModePush
)

func (m Mode) String() string {
	if m == ModePush {
		return "push"
	}
	return "replace"
}

// Round is the single writer of one pending generation. It is not safe for
// concurrent use; the driving goroutine owns it.
type Round struct {
	store *Store
	mode  Mode
	meta  Meta
	seq   int
	table string
	count int64
	done  bool
}

// Begin opens a pending generation. Only one round may be open per store.
func (s *Store) Begin(mode Mode, meta Meta) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.round != nil {
		return nil, ErrRoundInProgress
	}

	g, err := s.top(s.db)
	if err != nil {
		return nil, err
	}
	seq := 1
	if g != nil {
		seq = g.Seq + 1
	}

	table := s.tableName(seq)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// A crashed round may have left its table behind.
		if err := tx.Exec("DROP TABLE IF EXISTS " + quote(table)).Error; err != nil {
			return err
		}
		return tx.Exec(fmt.Sprintf(
			"CREATE TABLE %s (id INTEGER PRIMARY KEY AUTOINCREMENT, address INTEGER NOT NULL, value BLOB)",
			quote(table),
		)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation table: %w", err)
	}

	r := &Round{store: s, mode: mode, meta: meta, seq: seq, table: table}
	s.round = r
	return r, nil
}

// Mode returns the round mode.
func (r *Round) Mode() Mode { return r.mode }

// Meta returns the round's read shape.
func (r *Round) Meta() Meta { return r.meta }

// Count returns the number of entries appended so far.
func (r *Round) Count() int64 { return r.count }

// Append writes entries into the pending generation.
func (r *Round) Append(entries []Entry) error {
	if r.done {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}
	rows := make([]row, len(entries))
	for i, e := range entries {
		rows[i] = row{Address: int64(e.Address), Value: e.Value}
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.Table(r.table).CreateInBatches(rows, s.opts.BatchSize).Error; err != nil {
		return err
	}
	r.count += int64(len(entries))
	return nil
}

// Commit indexes the pending table and publishes it as the new top
// generation. In ModeReplace the previous top is dropped in the same
// transaction.
func (r *Round) Commit() (Generation, error) {
	if r.done {
		return Generation{}, ErrClosed
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Generation{}, ErrClosed
	}

	g := &generation{
		Catalog:   s.catalog,
		Seq:       r.seq,
		Rows:      r.table,
		Kind:      r.meta.Kind,
		Width:     r.meta.Width,
		Signed:    r.meta.Signed,
		Count:     r.count,
		CreatedAt: time.Now(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		idx := fmt.Sprintf("CREATE INDEX %s ON %s (address)", quote("idx_"+r.table+"_address"), quote(r.table))
		if err := tx.Exec(idx).Error; err != nil {
			return err
		}
		if r.mode == ModeReplace {
			prev, err := s.top(tx)
			if err != nil {
				return err
			}
			if prev != nil {
				if err := dropGeneration(tx, prev); err != nil {
					return err
				}
			}
		}
		return tx.Create(g).Error
	})
	if err != nil {
		return Generation{}, fmt.Errorf("failed to commit generation: %w", err)
	}

	r.done = true
	s.round = nil
	return g.public(), nil
}

// Abort discards the pending generation. The committed stack is unchanged.
func (r *Round) Abort() error {
	if r.done {
		return nil
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	r.done = true
	s.round = nil
	if s.closed {
		return nil
	}
	return s.db.Exec("DROP TABLE IF EXISTS " + quote(r.table)).Error
}
