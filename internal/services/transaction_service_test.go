package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/ruralpay/ledger/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testTreasury = "SYSTEM_TREASURY"
	gold         = "GOLD_COINS"
	diamonds     = "DIAMONDS"
)

func testLedgerConfig() *config.LedgerConfig {
	return &config.LedgerConfig{
		Store:          config.StoreMemory,
		LockMode:       config.LockModeProcess,
		TreasuryOwner:  testTreasury,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		LockTimeout:    5 * time.Second,
		IdempotencyTTL: time.Hour,
	}
}

func newTestEngine(t *testing.T, store repository.Store) (*TransactionService, *WalletService) {
	t.Helper()
	wallets := NewWalletService(store, nil, zap.NewNop())
	require.NoError(t, wallets.EnsureAssetTypes(context.Background(), models.DefaultAssetTypes()))
	return NewTransactionService(store, wallets, nil, testLedgerConfig(), zap.NewNop()), wallets
}

func transfer(owner, asset, amount, key string) TransferRequest {
	return TransferRequest{
		OwnerID:        owner,
		AssetType:      asset,
		Amount:         decimal.RequireFromString(amount),
		IdempotencyKey: key,
	}
}

func requireBalance(t *testing.T, wallets *WalletService, owner, asset, want string) {
	t.Helper()
	got, err := wallets.GetBalance(context.Background(), owner, asset)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString(want).Equal(got), "balance of %s/%s: want %s, got %s", owner, asset, want, got)
}

// faultyStore injects errors into InsertLedgerEntries, one per call, in order.
type faultyStore struct {
	repository.Store

	mu       sync.Mutex
	faults   []error
	attempts int
}

func (f *faultyStore) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	uow, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyUnit{UnitOfWork: uow, store: f}, nil
}

func (f *faultyStore) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.faults) == 0 {
		return nil
	}
	err := f.faults[0]
	f.faults = f.faults[1:]
	return err
}

type faultyUnit struct {
	repository.UnitOfWork
	store *faultyStore
}

func (u *faultyUnit) InsertLedgerEntries(ctx context.Context, entries ...models.LedgerEntry) error {
	if err := u.store.next(); err != nil {
		return err
	}
	return u.UnitOfWork.InsertLedgerEntries(ctx, entries...)
}

func TestTransactionService_TopupSpendReplay(t *testing.T) {
	ctx := context.Background()
	engine, wallets := newTestEngine(t, memory.NewStore())

	topup, err := engine.Topup(ctx, transfer("user_1", gold, "100.00", "k1"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, topup.Status)
	assert.Equal(t, models.TransactionTypeTopup, topup.Type)
	assert.Equal(t, "Wallet top-up for user_1", topup.Description)
	assert.Regexp(t, `^txn_[0-9a-f]{16}$`, topup.ID)
	requireBalance(t, wallets, "user_1", gold, "100")

	spend, err := engine.Spend(ctx, transfer("user_1", gold, "30.00", "k2"))
	require.NoError(t, err)
	assert.Equal(t, "Spend by user_1", spend.Description)
	requireBalance(t, wallets, "user_1", gold, "70")

	_, err = engine.Spend(ctx, transfer("user_1", gold, "1000.00", "k3"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	requireBalance(t, wallets, "user_1", gold, "70")

	_, err = engine.GetTransaction(ctx, "")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	replay, err := engine.Topup(ctx, transfer("user_1", gold, "100.00", "k1"))
	require.NoError(t, err)
	assert.Equal(t, topup.ID, replay.ID)
	requireBalance(t, wallets, "user_1", gold, "70")

	history, err := engine.GetHistory(ctx, "user_1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2, "the failed spend must not be persisted")
}

func TestTransactionService_Bonus(t *testing.T) {
	ctx := context.Background()
	engine, wallets := newTestEngine(t, memory.NewStore())

	txn, err := engine.Bonus(ctx, TransferRequest{
		OwnerID:        "user_1",
		AssetType:      diamonds,
		Amount:         decimal.RequireFromString("5.5"),
		IdempotencyKey: "bonus-1",
		Metadata:       models.Metadata{"campaign": "launch"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeBonus, txn.Type)
	assert.Equal(t, "Bonus credit for user_1", txn.Description)
	assert.Equal(t, "launch", txn.Metadata["campaign"])
	assert.Equal(t, "5.50", FormatAmount(txn.Amount))
	requireBalance(t, wallets, "user_1", diamonds, "5.50")
}

func TestTransactionService_Validation(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, memory.NewStore())

	tests := []struct {
		name string
		req  TransferRequest
		want error
	}{
		{"zero amount", transfer("user_1", gold, "0", "v1"), ErrInvalidAmount},
		{"negative amount", transfer("user_1", gold, "-5", "v2"), ErrInvalidAmount},
		{"too precise", transfer("user_1", gold, "1.001", "v3"), ErrInvalidAmount},
		{"missing owner", transfer(" ", gold, "1", "v4"), ErrInvalidArgument},
		{"missing key", transfer("user_1", gold, "1", ""), ErrInvalidArgument},
		{"missing asset", transfer("user_1", "", "1", "v5"), ErrInvalidArgument},
		{"treasury owner", transfer(testTreasury, gold, "1", "v6"), ErrInvalidArgument},
		{"unknown asset", transfer("user_1", "SILVER", "1", "v7"), ErrAssetTypeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Topup(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	accounts, err := engine.wallets.ListAccounts(ctx, "user_1")
	require.NoError(t, err)
	assert.Empty(t, accounts, "rejected requests must not create accounts")
}

func TestTransactionService_InactiveAssetType(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine, wallets := newTestEngine(t, store)
	require.NoError(t, wallets.EnsureAssetTypes(ctx, []models.AssetType{{Code: "RETIRED", Name: "Retired", IsActive: false}}))

	_, err := engine.Topup(ctx, transfer("user_1", "RETIRED", "1", "r1"))
	assert.ErrorIs(t, err, ErrAssetTypeNotFound)
}

func TestTransactionService_EntriesFollowDoubleEntry(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, memory.NewStore())

	topup, err := engine.Topup(ctx, transfer("user_1", gold, "40", "e1"))
	require.NoError(t, err)
	spend, err := engine.Spend(ctx, transfer("user_1", gold, "15", "e2"))
	require.NoError(t, err)

	userID := AccountID("user_1", gold)
	treasuryID := AccountID(testTreasury, gold)

	entries, err := engine.GetEntries(ctx, topup.ID)
	require.NoError(t, err)
	require.NoError(t, VerifyPair(entries))
	assert.Equal(t, userID, entries[0].DebitAccountID)
	assert.Equal(t, treasuryID, entries[0].CreditAccountID)

	entries, err = engine.GetEntries(ctx, spend.ID)
	require.NoError(t, err)
	require.NoError(t, VerifyPair(entries))
	assert.Equal(t, treasuryID, entries[0].DebitAccountID)
	assert.Equal(t, userID, entries[0].CreditAccountID)
	for _, e := range entries {
		assert.Regexp(t, `^led_[0-9a-f]{16}$`, e.ID)
		assert.True(t, decimal.NewFromInt(15).Equal(e.Amount))
	}

	_, err = engine.GetEntries(ctx, "txn_missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	accounts, err := engine.wallets.ListAccounts(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, 2, accounts[0].Version)
	assert.Equal(t, models.AccountTypeUser, accounts[0].AccountType)
}

func TestTransactionService_ZeroSum(t *testing.T) {
	ctx := context.Background()
	engine, wallets := newTestEngine(t, memory.NewStore())

	ops := []struct {
		op     func(context.Context, TransferRequest) (*models.Transaction, error)
		owner  string
		asset  string
		amount string
	}{
		{engine.Topup, "alice", gold, "100"},
		{engine.Topup, "bob", gold, "12.34"},
		{engine.Bonus, "alice", gold, "7.66"},
		{engine.Spend, "alice", gold, "50"},
		{engine.Topup, "bob", diamonds, "3"},
		{engine.Spend, "bob", gold, "0.34"},
	}
	for i, o := range ops {
		_, err := o.op(ctx, transfer(o.owner, o.asset, o.amount, fmt.Sprintf("zs-%d", i)))
		require.NoError(t, err)
	}

	requireBalance(t, wallets, "alice", gold, "57.66")
	requireBalance(t, wallets, "bob", gold, "12")
	requireBalance(t, wallets, "bob", diamonds, "3")

	for _, asset := range []string{gold, diamonds} {
		total := decimal.Zero
		for _, owner := range []string{"alice", "bob", testTreasury} {
			b, err := wallets.GetBalance(ctx, owner, asset)
			require.NoError(t, err)
			total = total.Add(b)
		}
		assert.True(t, total.IsZero(), "%s does not sum to zero: %s", asset, total)
	}
}

func TestTransactionService_GetHistory(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, memory.NewStore())

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	var ids []string
	for i := 0; i < 5; i++ {
		txn, err := engine.Topup(ctx, transfer("user_1", gold, "1", fmt.Sprintf("h-%d", i)))
		require.NoError(t, err)
		ids = append(ids, txn.ID)
	}

	page, err := engine.GetHistory(ctx, "user_1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, err = engine.GetHistory(ctx, "user_1", 100, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, err = engine.GetHistory(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)

	for _, bad := range []struct{ limit, offset int }{{0, 0}, {101, 0}, {10, -1}} {
		_, err := engine.GetHistory(ctx, "user_1", bad.limit, bad.offset)
		assert.ErrorIs(t, err, ErrInvalidArgument, "limit=%d offset=%d", bad.limit, bad.offset)
	}
}

func TestTransactionService_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	engine, wallets := newTestEngine(t, memory.NewStore())

	_, err := engine.Topup(ctx, transfer("user_1", gold, "100", "seed"))
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Spend(ctx, transfer("user_1", gold, "10", fmt.Sprintf("spend-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 5, insufficient)
	requireBalance(t, wallets, "user_1", gold, "0")
}

func TestTransactionService_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	engine, wallets := newTestEngine(t, memory.NewStore())

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := engine.Topup(ctx, transfer("user_1", gold, "25", "same-key"))
			if assert.NoError(t, err) {
				ids[i] = txn.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	requireBalance(t, wallets, "user_1", gold, "25")

	history, err := engine.GetHistory(ctx, "user_1", 100, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTransactionService_ConcurrentMixedOwners(t *testing.T) {
	ctx := context.Background()
	engine, wallets := newTestEngine(t, memory.NewStore())

	owners := []string{"alice", "bob", "carol"}
	var wg sync.WaitGroup
	for _, owner := range owners {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(owner string, i int) {
				defer wg.Done()
				_, err := engine.Topup(ctx, transfer(owner, gold, "5", fmt.Sprintf("%s-top-%d", owner, i)))
				assert.NoError(t, err)
			}(owner, i)
		}
	}
	wg.Wait()

	for _, owner := range owners {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(owner string, i int) {
				defer wg.Done()
				_, err := engine.Spend(ctx, transfer(owner, gold, "3", fmt.Sprintf("%s-spend-%d", owner, i)))
				assert.NoError(t, err)
			}(owner, i)
		}
	}
	wg.Wait()

	total := decimal.Zero
	for _, owner := range owners {
		requireBalance(t, wallets, owner, gold, "70")
		accounts, err := wallets.ListAccounts(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
		total = total.Add(decimal.NewFromInt(70))
	}
	requireBalance(t, wallets, testTreasury, gold, total.Neg().String())
}

func TestTransactionService_FailedAttemptLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: memory.NewStore()}
	engine, wallets := newTestEngine(t, store)

	_, err := engine.Topup(ctx, transfer("user_1", gold, "100", "ok-1"))
	require.NoError(t, err)

	store.faults = []error{errors.New("disk full")}
	_, err = engine.Spend(ctx, transfer("user_1", gold, "40", "fail-1"))
	assert.ErrorIs(t, err, ErrStorage)
	requireBalance(t, wallets, "user_1", gold, "100")

	history, err := engine.GetHistory(ctx, "user_1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// The key was never consumed, so the same request can succeed later.
	_, err = engine.Spend(ctx, transfer("user_1", gold, "40", "fail-1"))
	require.NoError(t, err)
	requireBalance(t, wallets, "user_1", gold, "60")
}

func TestTransactionService_RetriesTransientConflicts(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: memory.NewStore()}
	engine, wallets := newTestEngine(t, store)

	store.faults = []error{repository.ErrConflict, repository.ErrConflict}
	_, err := engine.Topup(ctx, transfer("user_1", gold, "10", "retry-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, store.attempts)
	requireBalance(t, wallets, "user_1", gold, "10")

	store.attempts = 0
	store.faults = []error{repository.ErrConflict, repository.ErrConflict, repository.ErrConflict, repository.ErrConflict}
	_, err = engine.Topup(ctx, transfer("user_1", gold, "10", "retry-2"))
	assert.ErrorIs(t, err, ErrTransientConflict)
	assert.Equal(t, 4, store.attempts)
	requireBalance(t, wallets, "user_1", gold, "10")
}

func TestTransactionService_CancelledContext(t *testing.T) {
	engine, wallets := newTestEngine(t, memory.NewStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Topup(ctx, transfer("user_1", gold, "10", "cancelled"))
	assert.ErrorIs(t, err, context.Canceled)
	requireBalance(t, wallets, "user_1", gold, "0")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Wallet top-up for u", describe(models.TransactionTypeTopup, "u"))
	assert.Equal(t, "Bonus credit for u", describe(models.TransactionTypeBonus, "u"))
	assert.Equal(t, "Spend by u", describe(models.TransactionTypeSpend, "u"))
}
