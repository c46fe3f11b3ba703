package services

import (
	"github.com/ruralpay/ledger/internal/models"
	"go.uber.org/zap"
)

const (
	auditEventTransfer = "TRANSFER"
	auditEventReplay   = "REPLAY"
	auditEventError    = "ERROR"
)

// AuditLogger writes one structured audit event per engine outcome.
type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogTransfer(txn *models.Transaction, debitAccountID, creditAccountID string) {
	a.logger.Info("AUDIT",
		zap.String("event_type", auditEventTransfer),
		zap.String("transaction_id", txn.ID),
		zap.String("transaction_type", string(txn.Type)),
		zap.String("owner_id", txn.OwnerID),
		zap.String("asset_type", txn.AssetTypeCode),
		zap.String("amount", FormatAmount(txn.Amount)),
		zap.String("status", string(txn.Status)),
		zap.String("debit_account", debitAccountID),
		zap.String("credit_account", creditAccountID),
	)
}

func (a *AuditLogger) LogReplay(txn *models.Transaction) {
	a.logger.Info("AUDIT",
		zap.String("event_type", auditEventReplay),
		zap.String("transaction_id", txn.ID),
		zap.String("idempotency_key", txn.IdempotencyKey),
		zap.String("status", string(txn.Status)),
	)
}

func (a *AuditLogger) LogError(idempotencyKey, ownerID string, err error) {
	a.logger.Warn("AUDIT",
		zap.String("event_type", auditEventError),
		zap.String("idempotency_key", idempotencyKey),
		zap.String("owner_id", ownerID),
		zap.String("status", string(models.TransactionStatusFailed)),
		zap.Error(err),
	)
}
