package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletService owns the account registry and the read side of balances.
type WalletService struct {
	store  repository.Store
	ledger *DoubleLedgerService
	logger *zap.Logger
	now    func() time.Time
}

func NewWalletService(store repository.Store, ledger *DoubleLedgerService, logger *zap.Logger) *WalletService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ledger == nil {
		ledger = NewDoubleLedgerService()
	}
	return &WalletService{
		store:  store,
		ledger: ledger,
		logger: logger.Named("wallet"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureAssetTypes registers any of the given asset types that are missing.
func (s *WalletService) EnsureAssetTypes(ctx context.Context, types []models.AssetType) error {
	for i := range types {
		at := types[i]
		created, err := s.store.EnsureAssetType(ctx, &at)
		if err != nil {
			return storageError("ensure asset type "+at.Code, err)
		}
		if created {
			s.logger.Info("asset type registered", zap.String("asset_type", at.Code))
		}
	}
	return nil
}

// RequireAssetType fails with ErrAssetTypeNotFound unless code names an active asset type.
func (s *WalletService) RequireAssetType(ctx context.Context, repo repository.Repository, code string) (*models.AssetType, error) {
	at, err := repo.GetAssetType(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAssetTypeNotFound, code)
	}
	if err != nil {
		return nil, storageError("get asset type", err)
	}
	if !at.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrAssetTypeNotFound, code)
	}
	return at, nil
}

// GetOrCreateAccount returns the account for (ownerID, assetType), creating it
// through repo when it does not exist. Exactly one account exists per pair
// even under concurrent first use; a losing creator gets the winner's row.
func (s *WalletService) GetOrCreateAccount(ctx context.Context, repo repository.Repository, ownerID, assetType string, kind models.AccountType) (*models.Account, error) {
	account, err := repo.FindAccount(ctx, ownerID, assetType)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError("find account", err)
	}

	now := s.now()
	account = &models.Account{
		ID:            AccountID(ownerID, assetType),
		OwnerID:       ownerID,
		AccountType:   kind,
		AssetTypeCode: assetType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := repo.InsertAccount(ctx, account)
	if err != nil {
		return nil, storageError("create account", err)
	}
	if created {
		s.logger.Debug("account created",
			zap.String("account_id", account.ID),
			zap.String("owner_id", ownerID),
			zap.String("asset_type", assetType))
		return account, nil
	}

	winner, err := repo.FindAccount(ctx, ownerID, assetType)
	if err != nil {
		return nil, storageError("re-read account", err)
	}
	return winner, nil
}

// GetBalance derives the owner's balance of one asset type. An owner who has
// never transacted in the asset has a zero balance.
func (s *WalletService) GetBalance(ctx context.Context, ownerID, assetType string) (decimal.Decimal, error) {
	if strings.TrimSpace(ownerID) == "" {
		return decimal.Zero, fmt.Errorf("%w: owner id is required", ErrInvalidArgument)
	}
	if _, err := s.RequireAssetType(ctx, s.store, assetType); err != nil {
		return decimal.Zero, err
	}

	account, err := s.store.FindAccount(ctx, ownerID, assetType)
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, storageError("find account", err)
	}
	return s.ledger.BalanceOf(ctx, s.store, account.ID, assetType)
}

// GetAllBalances returns one entry per account the owner holds.
func (s *WalletService) GetAllBalances(ctx context.Context, ownerID string) ([]models.BalanceDetail, error) {
	accounts, err := s.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	balances := make([]models.BalanceDetail, 0, len(accounts))
	for _, account := range accounts {
		balance, err := s.ledger.BalanceOf(ctx, s.store, account.ID, account.AssetTypeCode)
		if err != nil {
			return nil, err
		}
		balances = append(balances, models.BalanceDetail{
			AssetType: account.AssetTypeCode,
			Balance:   balance,
			AccountID: account.ID,
		})
	}
	return balances, nil
}

func (s *WalletService) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidArgument)
	}
	accounts, err := s.store.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, storageError("list accounts", err)
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return accounts, nil
}

// ListUsers returns every owner holding a USER account. The treasury and
// other SYSTEM owners are left out.
func (s *WalletService) ListUsers(ctx context.Context) ([]models.OwnerSummary, error) {
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, storageError("list owners", err)
	}
	if owners == nil {
		owners = []models.OwnerSummary{}
	}
	return owners, nil
}
