package models

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/enums"
)

func TestLedgerTransactionSigned(t *testing.T) {
	original := uuid.New()
	tests := []struct {
		name string
		txn  LedgerTransaction
		want int64
	}{
		{name: "purchase", txn: LedgerTransaction{Kind: enums.TransactionKindPurchase, Quantity: 5}, want: 5},
		{name: "transfer in", txn: LedgerTransaction{Kind: enums.TransactionKindTransferIn, Quantity: 3}, want: 3},
		{name: "transfer out", txn: LedgerTransaction{Kind: enums.TransactionKindTransferOut, Quantity: 3}, want: -3},
		{name: "assign", txn: LedgerTransaction{Kind: enums.TransactionKindAssign, Quantity: 2}, want: -2},
		{name: "expend", txn: LedgerTransaction{Kind: enums.TransactionKindExpend, Quantity: 4}, want: -4},
		{name: "reversed expend", txn: LedgerTransaction{Kind: enums.TransactionKindExpend, Quantity: 4, ReversesID: &original}, want: 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.txn.Signed(); got != tc.want {
				t.Fatalf("expected %d got %d", tc.want, got)
			}
		})
	}
}
