package enums

import "testing"

func TestParseAssetTypeCaseInsensitive(t *testing.T) {
	got, err := ParseAssetType(" Weapon ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != AssetTypeWeapon {
		t.Fatalf("expected weapon, got %q", got)
	}
	if _, err := ParseAssetType("spaceship"); err == nil {
		t.Fatal("expected unknown asset type to fail")
	}
}

func TestTransactionKindSign(t *testing.T) {
	tests := map[TransactionKind]int64{
		TransactionKindPurchase:    1,
		TransactionKindTransferIn:  1,
		TransactionKindTransferOut: -1,
		TransactionKindAssign:      -1,
		TransactionKindExpend:      -1,
		TransactionKind("bogus"):   0,
	}
	for kind, want := range tests {
		if got := kind.Sign(); got != want {
			t.Fatalf("kind %s: expected sign %d got %d", kind, want, got)
		}
	}
}

func TestTransactionKindReversible(t *testing.T) {
	if !TransactionKindAssign.Reversible() || !TransactionKindExpend.Reversible() {
		t.Fatal("assign and expend must be reversible")
	}
	if TransactionKindPurchase.Reversible() || TransactionKindTransferOut.Reversible() {
		t.Fatal("purchase and transfers must not be reversible")
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("logistics")
	if err != nil || role != RoleLogistics {
		t.Fatalf("expected LOGISTICS, got %q (%v)", role, err)
	}
	if !role.RequiresHomeBase() {
		t.Fatal("logistics requires a home base")
	}
	if RoleAdmin.RequiresHomeBase() {
		t.Fatal("admin has no home base")
	}
	if _, err := ParseRole("GUEST"); err == nil {
		t.Fatal("expected unknown role to fail")
	}
}
