// Package memory is a process-local ledger store. It has no row locks, so it
// must be paired with the process-wide lock coordinator.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
)

var errUnitClosed = errors.New("unit of work already committed or rolled back")

type accountKey struct {
	owner     string
	assetType string
}

// Store keeps committed state behind a single RWMutex. Units of work buffer
// their writes and apply them in one critical section at Commit.
type Store struct {
	mu            sync.RWMutex
	assetTypes    map[string]models.AssetType
	accounts      map[string]models.Account
	accountByKey  map[accountKey]string
	transactions  map[string]models.Transaction
	txByKey       map[string]string
	entries       []models.LedgerEntry
	entriesByTx   map[string][]int
	entriesByAcct map[string][]int
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		assetTypes:    make(map[string]models.AssetType),
		accounts:      make(map[string]models.Account),
		accountByKey:  make(map[accountKey]string),
		transactions:  make(map[string]models.Transaction),
		txByKey:       make(map[string]string),
		entriesByTx:   make(map[string][]int),
		entriesByAcct: make(map[string][]int),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) EnsureAssetType(_ context.Context, at *models.AssetType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assetTypes[at.Code]; ok {
		return false, nil
	}
	row := *at
	now := s.now()
	row.CreatedAt, row.UpdatedAt = now, now
	s.assetTypes[at.Code] = row
	return true, nil
}

func (s *Store) GetAssetType(_ context.Context, code string) (*models.AssetType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.assetTypes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &at, nil
}

func (s *Store) FindAccount(_ context.Context, ownerID, assetType string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountByKey[accountKey{ownerID, assetType}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a := s.accounts[id]
	return &a, nil
}

func (s *Store) ListAccountsByOwner(_ context.Context, ownerID string) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []models.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AssetTypeCode < accounts[j].AssetTypeCode
	})
	return accounts, nil
}

func (s *Store) ListOwners(_ context.Context) ([]models.OwnerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, a := range s.accounts {
		if a.AccountType == models.AccountTypeUser {
			counts[a.OwnerID]++
		}
	}
	owners := make([]models.OwnerSummary, 0, len(counts))
	for owner, n := range counts {
		owners = append(owners, models.OwnerSummary{OwnerID: owner, AccountCount: n})
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].OwnerID < owners[j].OwnerID })
	return owners, nil
}

// RowLocking is false: LockAccount does not exclude other units of work.
func (s *Store) RowLocking() bool { return false }

// InsertAccount is applied immediately, outside any unit of work. Accounts
// are never deleted, so one that outlives a rolled back unit is harmless.
func (s *Store) InsertAccount(_ context.Context, a *models.Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{a.OwnerID, a.AssetTypeCode}
	if _, ok := s.accountByKey[key]; ok {
		return false, nil
	}
	if _, ok := s.accounts[a.ID]; ok {
		return false, nil
	}
	s.accounts[a.ID] = *a
	s.accountByKey[key] = a.ID
	return true, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTransactionLocked(id)
}

func (s *Store) getTransactionLocked(id string) (*models.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyTransaction(t), nil
}

func (s *Store) GetTransactionByKey(_ context.Context, key string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByKey[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.getTransactionLocked(id)
}

func (s *Store) ListTransactionsByOwner(_ context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	return page(s.owned(ownerID), limit, offset), nil
}

func (s *Store) owned(ownerID string) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []models.Transaction
	for _, t := range s.transactions {
		if t.OwnerID == ownerID {
			owned = append(owned, *copyTransaction(t))
		}
	}
	return owned
}

func (s *Store) ListEntriesByTransaction(_ context.Context, transactionID string) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []models.LedgerEntry{}
	for _, i := range s.entriesByTx[transactionID] {
		entries = append(entries, s.entries[i])
	}
	return entries, nil
}

func (s *Store) SumEntries(_ context.Context, accountID, assetType string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debits, credits := decimal.Zero, decimal.Zero
	for _, i := range s.entriesByAcct[accountID] {
		debits, credits = accumulate(debits, credits, s.entries[i], accountID, assetType)
	}
	return debits, credits, nil
}

func (s *Store) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unitOfWork{
		store:   s,
		ctx:     ctx,
		pending: make(map[string]models.Transaction),
		status:  make(map[string]models.TransactionStatus),
		touched: make(map[string]int),
	}, nil
}

type unitOfWork struct {
	store   *Store
	ctx     context.Context
	pending map[string]models.Transaction
	order   []string
	status  map[string]models.TransactionStatus
	entries []models.LedgerEntry
	touched map[string]int
	closed  bool
}

func (u *unitOfWork) GetAssetType(ctx context.Context, code string) (*models.AssetType, error) {
	return u.store.GetAssetType(ctx, code)
}

func (u *unitOfWork) FindAccount(ctx context.Context, ownerID, assetType string) (*models.Account, error) {
	return u.store.FindAccount(ctx, ownerID, assetType)
}

func (u *unitOfWork) ListAccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	return u.store.ListAccountsByOwner(ctx, ownerID)
}

func (u *unitOfWork) ListOwners(ctx context.Context) ([]models.OwnerSummary, error) {
	return u.store.ListOwners(ctx)
}

func (u *unitOfWork) InsertAccount(ctx context.Context, a *models.Account) (bool, error) {
	if u.closed {
		return false, errUnitClosed
	}
	return u.store.InsertAccount(ctx, a)
}

func (u *unitOfWork) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if t, ok := u.pending[id]; ok {
		return copyTransaction(t), nil
	}
	t, err := u.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if st, ok := u.status[id]; ok {
		t.Status = st
	}
	return t, nil
}

func (u *unitOfWork) GetTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	for _, id := range u.order {
		if u.pending[id].IdempotencyKey == key {
			return copyTransaction(u.pending[id]), nil
		}
	}
	return u.store.GetTransactionByKey(ctx, key)
}

func (u *unitOfWork) ListTransactionsByOwner(_ context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	committed := u.store.owned(ownerID)
	for i := range committed {
		if st, ok := u.status[committed[i].ID]; ok {
			committed[i].Status = st
		}
	}
	for _, id := range u.order {
		if t := u.pending[id]; t.OwnerID == ownerID {
			committed = append(committed, *copyTransaction(t))
		}
	}
	return page(committed, limit, offset), nil
}

func (u *unitOfWork) ListEntriesByTransaction(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	entries, err := u.store.ListEntriesByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	for _, e := range u.entries {
		if e.TransactionID == transactionID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (u *unitOfWork) SumEntries(ctx context.Context, accountID, assetType string) (decimal.Decimal, decimal.Decimal, error) {
	debits, credits, err := u.store.SumEntries(ctx, accountID, assetType)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, e := range u.entries {
		debits, credits = accumulate(debits, credits, e, accountID, assetType)
	}
	return debits, credits, nil
}

// LockAccount only checks existence; mutual exclusion comes from the
// process lock coordinator.
func (u *unitOfWork) LockAccount(_ context.Context, accountID string) error {
	if u.closed {
		return errUnitClosed
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	if _, ok := u.store.accounts[accountID]; !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (u *unitOfWork) TouchAccount(_ context.Context, accountID string) error {
	if u.closed {
		return errUnitClosed
	}
	u.store.mu.RLock()
	_, ok := u.store.accounts[accountID]
	u.store.mu.RUnlock()
	if !ok {
		return repository.ErrNotFound
	}
	u.touched[accountID]++
	return nil
}

func (u *unitOfWork) InsertTransaction(_ context.Context, txn *models.Transaction) error {
	if u.closed {
		return errUnitClosed
	}
	if _, ok := u.pending[txn.ID]; ok {
		return repository.ErrConflict
	}
	for _, id := range u.order {
		if u.pending[id].IdempotencyKey == txn.IdempotencyKey {
			return repository.ErrDuplicateIdempotencyKey
		}
	}
	u.pending[txn.ID] = *copyTransaction(*txn)
	u.order = append(u.order, txn.ID)
	return nil
}

func (u *unitOfWork) UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error {
	if u.closed {
		return errUnitClosed
	}
	if t, ok := u.pending[id]; ok {
		t.Status = status
		t.UpdatedAt = u.store.now()
		u.pending[id] = t
		return nil
	}
	if _, err := u.store.GetTransaction(ctx, id); err != nil {
		return err
	}
	u.status[id] = status
	return nil
}

func (u *unitOfWork) InsertLedgerEntries(_ context.Context, entries ...models.LedgerEntry) error {
	if u.closed {
		return errUnitClosed
	}
	u.entries = append(u.entries, entries...)
	return nil
}

// Commit validates the unique constraints and applies the buffered writes in
// one critical section. A cancelled context discards the unit instead.
func (u *unitOfWork) Commit() error {
	if u.closed {
		return errUnitClosed
	}
	u.closed = true
	if err := u.ctx.Err(); err != nil {
		return err
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range u.order {
		t := u.pending[id]
		if _, ok := s.transactions[id]; ok {
			return repository.ErrConflict
		}
		if _, ok := s.txByKey[t.IdempotencyKey]; ok {
			return repository.ErrDuplicateIdempotencyKey
		}
	}

	now := s.now()
	for _, id := range u.order {
		t := u.pending[id]
		s.transactions[id] = t
		s.txByKey[t.IdempotencyKey] = id
	}
	for id, st := range u.status {
		t := s.transactions[id]
		t.Status = st
		t.UpdatedAt = now
		s.transactions[id] = t
	}
	for _, e := range u.entries {
		idx := len(s.entries)
		s.entries = append(s.entries, e)
		s.entriesByTx[e.TransactionID] = append(s.entriesByTx[e.TransactionID], idx)
		s.entriesByAcct[e.DebitAccountID] = append(s.entriesByAcct[e.DebitAccountID], idx)
		if e.CreditAccountID != e.DebitAccountID {
			s.entriesByAcct[e.CreditAccountID] = append(s.entriesByAcct[e.CreditAccountID], idx)
		}
	}
	for id, n := range u.touched {
		a := s.accounts[id]
		a.Version += n
		a.UpdatedAt = now
		s.accounts[id] = a
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	u.closed = true
	return nil
}

func accumulate(debits, credits decimal.Decimal, e models.LedgerEntry, accountID, assetType string) (decimal.Decimal, decimal.Decimal) {
	if e.AssetTypeCode != assetType {
		return debits, credits
	}
	if e.EntryType == models.EntryTypeDebit && e.DebitAccountID == accountID {
		debits = debits.Add(e.Amount)
	}
	if e.EntryType == models.EntryTypeCredit && e.CreditAccountID == accountID {
		credits = credits.Add(e.Amount)
	}
	return debits, credits
}

// page orders newest first, ties broken by id descending.
func page(txns []models.Transaction, limit, offset int) []models.Transaction {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].CreatedAt.After(txns[j].CreatedAt)
		}
		return txns[i].ID > txns[j].ID
	})
	if offset >= len(txns) {
		return []models.Transaction{}
	}
	end := offset + limit
	if end > len(txns) {
		end = len(txns)
	}
	return txns[offset:end]
}

func copyTransaction(t models.Transaction) *models.Transaction {
	t.Metadata = t.Metadata.Clone()
	return &t
}
