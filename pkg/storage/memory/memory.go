// Package memory is an in-process storage.Store.
//
// Transactions are optimistic: reads see committed state plus the
// transaction's own writes, and writes are staged until commit. Commit takes
// the store lock, re-validates every version and unique key, and then applies
// all staged writes at once or none of them.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ledger/pkg/account"
	"ledger/pkg/schedule"
	"ledger/pkg/storage"
)

// Store keeps accounts, entries and schedules in maps.
type Store struct {
	mu        sync.RWMutex
	accounts  map[int64]*account.Account
	byNumber  map[string]int64
	entries   map[uuid.UUID]*account.Entry
	byKey     map[string]uuid.UUID
	schedules map[int64]*schedule.Schedule

	// journal lists each account's entry IDs in commit order
	journal map[int64][]uuid.UUID

	nextAccountID  atomic.Int64
	nextScheduleID atomic.Int64
	closed         atomic.Bool

	commits   atomic.Uint64
	conflicts atomic.Uint64
}

// New creates an empty store
func New() *Store {
	return &Store{
		accounts:  make(map[int64]*account.Account),
		byNumber:  make(map[string]int64),
		entries:   make(map[uuid.UUID]*account.Entry),
		byKey:     make(map[string]uuid.UUID),
		journal:   make(map[int64][]uuid.UUID),
		schedules: make(map[int64]*schedule.Schedule),
	}
}

// WithinTx runs fn against a fresh transaction and commits if it returns nil.
func (s *Store) WithinTx(ctx context.Context, fn storage.TxFunc) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

// Ping reports whether the store is open
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return ctx.Err()
}

// Close rejects further transactions
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// Stats returns commit and conflict counters
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Accounts:  len(s.accounts),
		Entries:   len(s.entries),
		Schedules: len(s.schedules),
		Commits:   s.commits.Load(),
		Conflicts: s.conflicts.Load(),
	}
}

// Stats describes store contents and activity
type Stats struct {
	Accounts  int
	Entries   int
	Schedules int
	Commits   uint64
	Conflicts uint64
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(t); err != nil {
		if err == storage.ErrVersionConflict {
			s.conflicts.Add(1)
		}
		return err
	}

	for id, a := range t.accounts {
		prev, existed := s.accounts[id]
		if existed && prev.Number != a.Number {
			delete(s.byNumber, prev.Number)
		}
		s.accounts[id] = a.Clone()
		s.byNumber[a.Number] = id
	}
	for _, e := range t.entries {
		c := *e
		s.entries[e.ID] = &c
		s.journal[e.AccountID] = append(s.journal[e.AccountID], e.ID)
		if e.IdempotencyKey != "" {
			s.byKey[e.IdempotencyKey] = e.ID
		}
	}
	for id, sc := range t.schedules {
		s.schedules[id] = sc.Clone()
	}

	s.commits.Add(1)
	return nil
}

// validate must be called with s.mu held
func (s *Store) validate(t *tx) error {
	for id, expected := range t.accountBase {
		current, ok := s.accounts[id]
		if !ok || current.Version != expected {
			return storage.ErrVersionConflict
		}
	}
	for id := range t.insertedAccounts {
		if owner, taken := s.byNumber[t.accounts[id].Number]; taken && owner != id {
			return fmt.Errorf("%w: account number", storage.ErrDuplicateKey)
		}
	}
	for _, e := range t.entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if _, taken := s.byKey[e.IdempotencyKey]; taken {
			return fmt.Errorf("%w: idempotency key", storage.ErrDuplicateKey)
		}
	}
	for id, expected := range t.scheduleBase {
		current, ok := s.schedules[id]
		if !ok || current.Version != expected {
			return storage.ErrVersionConflict
		}
	}
	return nil
}

type tx struct {
	s *Store

	// staged rows, keyed by id
	accounts  map[int64]*account.Account
	entries   []*account.Entry
	schedules map[int64]*schedule.Schedule

	// committed version each updated row was read at
	accountBase      map[int64]int64
	scheduleBase     map[int64]int64
	insertedAccounts map[int64]bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:                s,
		accounts:         make(map[int64]*account.Account),
		schedules:        make(map[int64]*schedule.Schedule),
		accountBase:      make(map[int64]int64),
		scheduleBase:     make(map[int64]int64),
		insertedAccounts: make(map[int64]bool),
	}
}

func (t *tx) Accounts() storage.AccountRepository   { return accountRepo{t} }
func (t *tx) Entries() storage.EntryRepository      { return entryRepo{t} }
func (t *tx) Schedules() storage.ScheduleRepository { return scheduleRepo{t} }

type accountRepo struct{ t *tx }

func (r accountRepo) lookup(id int64) (*account.Account, bool) {
	if a, ok := r.t.accounts[id]; ok {
		return a, true
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	a, ok := r.t.s.accounts[id]
	return a, ok
}

func (r accountRepo) Get(ctx context.Context, id int64) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := r.lookup(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

func (r accountRepo) GetByNumber(ctx context.Context, number string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, a := range r.t.accounts {
		if a.Number == number {
			return a.Clone(), nil
		}
	}
	r.t.s.mu.RLock()
	id, ok := r.t.s.byNumber[number]
	r.t.s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r accountRepo) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	_, err := r.GetByNumber(ctx, number)
	switch {
	case err == nil:
		return true, nil
	case err == storage.ErrNotFound:
		return false, nil
	default:
		return false, err
	}
}

func (r accountRepo) Insert(ctx context.Context, a *account.Account) error {
	exists, err := r.ExistsByNumber(ctx, a.Number)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: account number", storage.ErrDuplicateKey)
	}
	a.ID = r.t.s.nextAccountID.Add(1)
	a.Version = 0
	r.t.accounts[a.ID] = a.Clone()
	r.t.insertedAccounts[a.ID] = true
	return nil
}

func (r accountRepo) Update(ctx context.Context, a *account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok := r.lookup(a.ID)
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != a.Version {
		return storage.ErrVersionConflict
	}
	if !r.t.insertedAccounts[a.ID] {
		if _, tracked := r.t.accountBase[a.ID]; !tracked {
			r.t.accountBase[a.ID] = a.Version
		}
	}
	a.Version++
	r.t.accounts[a.ID] = a.Clone()
	return nil
}

type entryRepo struct{ t *tx }

func (r entryRepo) Append(ctx context.Context, e *account.Entry) error {
	if e.IdempotencyKey != "" {
		taken, err := r.ExistsByIdempotencyKey(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: idempotency key", storage.ErrDuplicateKey)
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	c := *e
	r.t.entries = append(r.t.entries, &c)
	return nil
}

func (r entryRepo) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, e := range r.t.entries {
		if e.IdempotencyKey == key {
			return true, nil
		}
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	_, ok := r.t.s.byKey[key]
	return ok, nil
}

func (r entryRepo) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*account.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*account.Entry
	for i := len(r.t.entries) - 1; i >= 0; i-- {
		if e := r.t.entries[i]; e.AccountID == accountID {
			c := *e
			out = append(out, &c)
		}
	}

	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	ids := r.t.s.journal[accountID]
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		c := *r.t.s.entries[ids[i]]
		out = append(out, &c)
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type scheduleRepo struct{ t *tx }

func (r scheduleRepo) lookup(id int64) (*schedule.Schedule, bool) {
	if sc, ok := r.t.schedules[id]; ok {
		return sc, true
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	sc, ok := r.t.s.schedules[id]
	return sc, ok
}

func (r scheduleRepo) Insert(ctx context.Context, sc *schedule.Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sc.ID = r.t.s.nextScheduleID.Add(1)
	sc.Version = 0
	r.t.schedules[sc.ID] = sc.Clone()
	return nil
}

func (r scheduleRepo) Get(ctx context.Context, id int64) (*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc, ok := r.lookup(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sc.Clone(), nil
}

func (r scheduleRepo) Due(ctx context.Context, now time.Time, limit int) ([]*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := make(map[int64]*schedule.Schedule)
	r.t.s.mu.RLock()
	for id, sc := range r.t.s.schedules {
		merged[id] = sc
	}
	r.t.s.mu.RUnlock()
	for id, sc := range r.t.schedules {
		merged[id] = sc
	}

	var due []*schedule.Schedule
	for _, sc := range merged {
		if sc.IsDue(now) {
			due = append(due, sc.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextRunAt.Equal(due[j].NextRunAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r scheduleRepo) Update(ctx context.Context, sc *schedule.Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok := r.lookup(sc.ID)
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != sc.Version {
		return storage.ErrVersionConflict
	}
	_, staged := r.t.schedules[sc.ID]
	if _, tracked := r.t.scheduleBase[sc.ID]; !tracked && !staged {
		r.t.scheduleBase[sc.ID] = sc.Version
	}
	sc.Version++
	r.t.schedules[sc.ID] = sc.Clone()
	return nil
}
