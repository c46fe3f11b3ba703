package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const idempotencyKeyPrefix = "ledger:idem:"

// IdempotencyGuard answers "has this key already committed?". The store is
// authoritative; Redis only short-circuits repeat lookups of completed work.
type IdempotencyGuard struct {
	repo   repository.Repository
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotencyGuard returns a guard over repo. cache may be nil.
func NewIdempotencyGuard(repo repository.Repository, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *IdempotencyGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyGuard{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("idempotency"),
	}
}

// Check returns the committed transaction for key, or nil when the key is unused.
func (g *IdempotencyGuard) Check(ctx context.Context, key string) (*models.Transaction, error) {
	if txn := g.cached(ctx, key); txn != nil {
		return txn, nil
	}

	txn, err := g.repo.GetTransactionByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("idempotency lookup", err)
	}

	g.Remember(ctx, txn)
	return txn, nil
}

// Remember caches a committed transaction under its idempotency key.
// Cache failures are logged and otherwise ignored.
func (g *IdempotencyGuard) Remember(ctx context.Context, txn *models.Transaction) {
	if g.cache == nil || txn == nil || txn.Status != models.TransactionStatusCompleted {
		return
	}

	data, err := json.Marshal(txn)
	if err != nil {
		g.logger.Warn("encode transaction for cache", zap.String("transaction_id", txn.ID), zap.Error(err))
		return
	}
	if err := g.cache.Set(ctx, cacheKey(txn.IdempotencyKey), data, g.ttl).Err(); err != nil {
		g.logger.Warn("cache idempotency key", zap.String("transaction_id", txn.ID), zap.Error(err))
	}
}

func (g *IdempotencyGuard) cached(ctx context.Context, key string) *models.Transaction {
	if g.cache == nil {
		return nil
	}

	data, err := g.cache.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("idempotency cache lookup failed", zap.Error(err))
		}
		return nil
	}

	var txn models.Transaction
	if err := json.Unmarshal(data, &txn); err != nil || txn.IdempotencyKey != key {
		g.logger.Warn("discarding unreadable idempotency cache entry", zap.Error(err))
		return nil
	}
	return &txn
}

// cacheKey hashes the caller's key so arbitrary key material maps onto a
// fixed-length Redis key.
func cacheKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return idempotencyKeyPrefix + hex.EncodeToString(sum[:])
}
