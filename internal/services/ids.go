package services

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// accountNamespace seeds the name-based UUIDs used for account ids.
var accountNamespace = uuid.MustParse("8f0c2d4e-5b7a-4c1e-9a36-2d1f0b7e6c54")

func shortID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func newTransactionID() string {
	return shortID("txn_")
}

func newEntryID() string {
	return shortID("led_")
}

// AccountID is deterministic in (owner, asset type), so every process derives
// the same id, and therefore the same lock order, for the same account.
func AccountID(ownerID, assetType string) string {
	u := uuid.NewSHA1(accountNamespace, []byte(ownerID+"\x00"+assetType))
	return "acc_" + hex.EncodeToString(u[:])
}
