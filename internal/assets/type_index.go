package assets

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

// TypeIndex answers asset-type filters for summaries straight from the repository.
type TypeIndex struct {
	repo Repository
}

// NewTypeIndex wraps repo.
func NewTypeIndex(repo Repository) *TypeIndex {
	return &TypeIndex{repo: repo}
}

// IDsOfType returns the ids of every asset of the given type.
func (t *TypeIndex) IDsOfType(ctx context.Context, assetType enums.AssetType) (map[uuid.UUID]struct{}, error) {
	assets, err := t.repo.List(ctx, listFilter{Type: assetType})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "list assets by type")
	}
	ids := make(map[uuid.UUID]struct{}, len(assets))
	for _, asset := range assets {
		ids[asset.ID] = struct{}{}
	}
	return ids, nil
}
