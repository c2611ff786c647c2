package projector

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/db/models"
)

// Key identifies one balance: an asset at a base. Base is normalized.
type Key struct {
	AssetID uuid.UUID
	Base    string
}

// KeyOf returns the balance key for assetID at base.
func KeyOf(assetID uuid.UUID, base string) Key {
	return Key{AssetID: assetID, Base: NormalizeBase(base)}
}

// NormalizeBase is the canonical form bases are compared in.
func NormalizeBase(base string) string {
	return strings.ToLower(strings.TrimSpace(base))
}

// Fold sums the signed contribution of every transaction per key. It is pure:
// folding the same prefix always yields the same balances.
func Fold(txns []models.LedgerTransaction) map[Key]int64 {
	balances := make(map[Key]int64)
	for _, txn := range txns {
		balances[KeyOf(txn.AssetID, txn.Base)] += txn.Signed()
	}
	return balances
}
