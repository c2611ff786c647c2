package enums

import (
	"fmt"
	"strings"
)

// AssetType classifies a trackable item. Values are stored lowercase.
type AssetType string

const (
	AssetTypeWeapon     AssetType = "weapon"
	AssetTypeVehicle    AssetType = "vehicle"
	AssetTypeAmmunition AssetType = "ammunition"
	AssetTypeEquipment  AssetType = "equipment"
)

var validAssetTypes = []AssetType{
	AssetTypeWeapon,
	AssetTypeVehicle,
	AssetTypeAmmunition,
	AssetTypeEquipment,
}

// String implements fmt.Stringer.
func (a AssetType) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AssetType.
func (a AssetType) IsValid() bool {
	for _, candidate := range validAssetTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAssetType converts raw input into an AssetType. Matching is case-insensitive
// so "Weapon" from a dashboard filter resolves to AssetTypeWeapon.
func ParseAssetType(value string) (AssetType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validAssetTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid asset type %q", value)
}
