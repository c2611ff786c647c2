package enums

import "fmt"

// TransactionKind maps to the kind column of ledger_transactions.
type TransactionKind string

const (
	TransactionKindPurchase    TransactionKind = "PURCHASE"
	TransactionKindTransferOut TransactionKind = "TRANSFER_OUT"
	TransactionKindTransferIn  TransactionKind = "TRANSFER_IN"
	TransactionKindAssign      TransactionKind = "ASSIGN"
	TransactionKindExpend      TransactionKind = "EXPEND"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindPurchase,
	TransactionKindTransferOut,
	TransactionKindTransferIn,
	TransactionKindAssign,
	TransactionKindExpend,
}

// IsValid reports whether the value matches a canonical transaction kind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsTransfer reports whether the kind is one half of a transfer group.
func (k TransactionKind) IsTransfer() bool {
	return k == TransactionKindTransferOut || k == TransactionKindTransferIn
}

// Reversible reports whether a compensating entry may be appended for the kind.
func (k TransactionKind) Reversible() bool {
	return k == TransactionKindAssign || k == TransactionKindExpend
}

// Sign returns the direction a quantity of this kind moves the balance at its base.
func (k TransactionKind) Sign() int64 {
	switch k {
	case TransactionKindPurchase, TransactionKindTransferIn:
		return 1
	case TransactionKindTransferOut, TransactionKindAssign, TransactionKindExpend:
		return -1
	}
	return 0
}

// ParseTransactionKind converts raw input into TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
