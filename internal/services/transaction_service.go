package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxHistoryLimit = 100

// TransferRequest is the input shared by top-up, bonus and spend.
type TransferRequest struct {
	OwnerID        string
	AssetType      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       models.Metadata
}

// TransactionService executes value movements between an owner's account and
// the treasury account of the same asset type.
type TransactionService struct {
	store         repository.Store
	wallets       *WalletService
	ledger        *DoubleLedgerService
	locks         LockCoordinator
	guard         *IdempotencyGuard
	retrier       *Retrier
	audit         *AuditLogger
	logger        *zap.Logger
	treasuryOwner string
	now           func() time.Time
}

// NewTransactionService builds the engine over store. A nil cfg means
// config.DefaultLedgerConfig. Process locks are used whenever cfg asks for
// them or the store cannot lock rows itself.
func NewTransactionService(store repository.Store, wallets *WalletService, cache *redis.Client, cfg *config.LedgerConfig, logger *zap.Logger) *TransactionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultLedgerConfig()
	}
	if wallets == nil {
		wallets = NewWalletService(store, nil, logger)
	}

	var locks LockCoordinator = NewRowLockCoordinator()
	if cfg.LockMode == config.LockModeProcess || !store.RowLocking() {
		locks = NewProcessLockCoordinator(cfg.LockTimeout)
	}

	return &TransactionService{
		store:         store,
		wallets:       wallets,
		ledger:        wallets.ledger,
		locks:         locks,
		guard:         NewIdempotencyGuard(store, cache, cfg.IdempotencyTTL, logger),
		retrier:       NewRetrier(cfg.MaxRetries, cfg.RetryBaseDelay, logger),
		audit:         NewAuditLogger(logger),
		logger:        logger.Named("transactions"),
		treasuryOwner: cfg.TreasuryOwner,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Topup credits the owner's account from the treasury.
func (s *TransactionService) Topup(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	return s.execute(ctx, models.TransactionTypeTopup, req)
}

// Bonus is a top-up recorded as a promotional grant.
func (s *TransactionService) Bonus(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	return s.execute(ctx, models.TransactionTypeBonus, req)
}

// Spend returns value from the owner's account to the treasury. It fails with
// ErrInsufficientBalance when the balance read under lock is below the amount.
func (s *TransactionService) Spend(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	return s.execute(ctx, models.TransactionTypeSpend, req)
}

func (s *TransactionService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, storageError("get transaction", err)
	}
	return txn, nil
}

// GetEntries returns the ledger entries written by one transaction.
func (s *TransactionService) GetEntries(ctx context.Context, id string) ([]models.LedgerEntry, error) {
	if _, err := s.GetTransaction(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntriesByTransaction(ctx, id)
	if err != nil {
		return nil, storageError("list ledger entries", err)
	}
	return entries, nil
}

// GetHistory pages through an owner's transactions, newest first.
func (s *TransactionService) GetHistory(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	switch {
	case strings.TrimSpace(ownerID) == "":
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidArgument)
	case limit < 1 || limit > maxHistoryLimit:
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, maxHistoryLimit)
	case offset < 0:
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidArgument)
	}

	txns, err := s.store.ListTransactionsByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, storageError("list transactions", err)
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	return txns, nil
}

func (s *TransactionService) validate(req TransferRequest) (decimal.Decimal, error) {
	switch {
	case strings.TrimSpace(req.OwnerID) == "":
		return decimal.Zero, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	case req.OwnerID == s.treasuryOwner:
		return decimal.Zero, fmt.Errorf("%w: %s is a reserved owner", ErrInvalidArgument, req.OwnerID)
	case strings.TrimSpace(req.AssetType) == "":
		return decimal.Zero, fmt.Errorf("%w: asset type is required", ErrInvalidArgument)
	case strings.TrimSpace(req.IdempotencyKey) == "":
		return decimal.Zero, fmt.Errorf("%w: idempotency key is required", ErrInvalidArgument)
	}
	return NormalizeAmount(req.Amount)
}

func (s *TransactionService) execute(ctx context.Context, kind models.TransactionType, req TransferRequest) (*models.Transaction, error) {
	amount, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.executeOnce(ctx, kind, req, amount)
		return err
	})
	if err != nil {
		s.audit.LogError(req.IdempotencyKey, req.OwnerID, err)
		return nil, err
	}
	return txn, nil
}

// executeOnce is a single attempt. Nothing it writes survives a failure.
func (s *TransactionService) executeOnce(ctx context.Context, kind models.TransactionType, req TransferRequest, amount decimal.Decimal) (*models.Transaction, error) {
	prior, err := s.guard.Check(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		s.audit.LogReplay(prior)
		return prior, nil
	}

	if _, err := s.wallets.RequireAssetType(ctx, s.store, req.AssetType); err != nil {
		return nil, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, storageError("begin", err)
	}
	defer uow.Rollback()

	user, err := s.wallets.GetOrCreateAccount(ctx, uow, req.OwnerID, req.AssetType, models.AccountTypeUser)
	if err != nil {
		return nil, err
	}
	treasury, err := s.wallets.GetOrCreateAccount(ctx, uow, s.treasuryOwner, req.AssetType, models.AccountTypeSystem)
	if err != nil {
		return nil, err
	}

	debit, credit := user, treasury
	if kind == models.TransactionTypeSpend {
		debit, credit = treasury, user
	}

	var (
		txn      *models.Transaction
		replayed bool
	)
	err = s.locks.WithLocks(ctx, uow, []string{user.ID, treasury.ID}, func(ctx context.Context) error {
		// A concurrent request with the same key may have committed while we waited.
		existing, err := uow.GetTransactionByKey(ctx, req.IdempotencyKey)
		if err == nil {
			txn, replayed = existing, true
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return storageError("idempotency recheck", err)
		}

		if kind == models.TransactionTypeSpend {
			balance, err := s.ledger.BalanceOf(ctx, uow, user.ID, req.AssetType)
			if err != nil {
				return err
			}
			if balance.LessThan(amount) {
				return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, FormatAmount(balance), FormatAmount(amount))
			}
		}

		now := s.now()
		pending := &models.Transaction{
			ID:             newTransactionID(),
			Type:           kind,
			Status:         models.TransactionStatusPending,
			OwnerID:        req.OwnerID,
			AssetTypeCode:  req.AssetType,
			Amount:         amount,
			Description:    describe(kind, req.OwnerID),
			Metadata:       req.Metadata.Clone(),
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := uow.InsertTransaction(ctx, pending); err != nil {
			return storageError("insert transaction", err)
		}
		if _, _, err := s.ledger.AppendPair(ctx, uow, pending.ID, debit.ID, credit.ID, req.AssetType, amount); err != nil {
			return err
		}
		for _, id := range []string{debit.ID, credit.ID} {
			if err := uow.TouchAccount(ctx, id); err != nil {
				return storageError("touch account", err)
			}
		}
		if err := uow.UpdateTransactionStatus(ctx, pending.ID, models.TransactionStatusCompleted); err != nil {
			return storageError("complete transaction", err)
		}
		if err := uow.Commit(); err != nil {
			return storageError("commit", err)
		}

		pending.Status = models.TransactionStatusCompleted
		txn = pending
		return nil
	})

	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		// Lost the insert race to a request with the same key; return its result.
		uow.Rollback()
		winner, ferr := s.store.GetTransactionByKey(ctx, req.IdempotencyKey)
		if ferr != nil {
			return nil, storageError("fetch idempotent winner", ferr)
		}
		s.audit.LogReplay(winner)
		return winner, nil
	}
	if err != nil {
		return nil, err
	}

	if replayed {
		s.audit.LogReplay(txn)
		return txn, nil
	}

	s.guard.Remember(ctx, txn)
	s.audit.LogTransfer(txn, debit.ID, credit.ID)
	return txn, nil
}

func describe(kind models.TransactionType, ownerID string) string {
	switch kind {
	case models.TransactionTypeTopup:
		return "Wallet top-up for " + ownerID
	case models.TransactionTypeBonus:
		return "Bonus credit for " + ownerID
	case models.TransactionTypeSpend:
		return "Spend by " + ownerID
	default:
		return string(kind) + " for " + ownerID
	}
}
