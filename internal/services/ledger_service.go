package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// DoubleLedgerService appends the immutable DEBIT/CREDIT entry pairs and
// derives balances from them.
type DoubleLedgerService struct {
	now func() time.Time
}

func NewDoubleLedgerService() *DoubleLedgerService {
	return &DoubleLedgerService{
		now: func() time.Time { return time.Now().UTC() },
	}
}

// AppendPair writes both entries of one transaction in a single insert
// through the caller's unit of work. The debit account's balance goes up by
// amount and the credit account's goes down by the same amount.
func (s *DoubleLedgerService) AppendPair(ctx context.Context, uow repository.UnitOfWork, transactionID, debitAccountID, creditAccountID, assetType string, amount decimal.Decimal) (models.LedgerEntry, models.LedgerEntry, error) {
	if debitAccountID == creditAccountID {
		return models.LedgerEntry{}, models.LedgerEntry{}, fmt.Errorf("%w: debit and credit account are both %s", ErrInvalidArgument, debitAccountID)
	}
	if !amount.IsPositive() {
		return models.LedgerEntry{}, models.LedgerEntry{}, fmt.Errorf("%w: ledger amount must be positive", ErrInvalidAmount)
	}

	now := s.now()
	debit := models.LedgerEntry{
		ID:              newEntryID(),
		TransactionID:   transactionID,
		EntryType:       models.EntryTypeDebit,
		DebitAccountID:  debitAccountID,
		CreditAccountID: creditAccountID,
		AssetTypeCode:   assetType,
		Amount:          amount,
		CreatedAt:       now,
	}
	credit := debit
	credit.ID = newEntryID()
	credit.EntryType = models.EntryTypeCredit

	if err := uow.InsertLedgerEntries(ctx, debit, credit); err != nil {
		return models.LedgerEntry{}, models.LedgerEntry{}, storageError("append ledger entries", err)
	}
	return debit, credit, nil
}

// BalanceOf = DEBIT-role total where the account is debited minus CREDIT-role
// total where it is credited.
func (s *DoubleLedgerService) BalanceOf(ctx context.Context, repo repository.Repository, accountID, assetType string) (decimal.Decimal, error) {
	debits, credits, err := repo.SumEntries(ctx, accountID, assetType)
	if err != nil {
		return decimal.Zero, storageError("sum ledger entries", err)
	}
	return debits.Sub(credits), nil
}

// VerifyPair checks the double-entry law for one transaction's entries.
func VerifyPair(entries []models.LedgerEntry) error {
	if len(entries) != 2 {
		return fmt.Errorf("expected 2 ledger entries, found %d", len(entries))
	}

	var debit, credit *models.LedgerEntry
	for i := range entries {
		switch entries[i].EntryType {
		case models.EntryTypeDebit:
			debit = &entries[i]
		case models.EntryTypeCredit:
			credit = &entries[i]
		}
	}
	switch {
	case debit == nil || credit == nil:
		return fmt.Errorf("expected one DEBIT and one CREDIT entry")
	case debit.TransactionID != credit.TransactionID:
		return fmt.Errorf("entries belong to different transactions")
	case debit.DebitAccountID != credit.DebitAccountID || debit.CreditAccountID != credit.CreditAccountID:
		return fmt.Errorf("entries reference different account pairs")
	case debit.AssetTypeCode != credit.AssetTypeCode:
		return fmt.Errorf("entries reference different asset types")
	case !debit.Amount.Equal(credit.Amount):
		return fmt.Errorf("debit amount %s does not match credit amount %s", debit.Amount, credit.Amount)
	}
	return nil
}
