package assets

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/armory-ledger/internal/repo"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
)

// Repository manages persistence for the asset catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, asset *models.Asset) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	// List returns assets in creation order.
	List(ctx context.Context, filter listFilter) ([]models.Asset, error)
}

type listFilter struct {
	Type enums.AssetType
	IDs  []uuid.UUID
	// HomeBase widens an ID filter with assets whose home base matches.
	HomeBase string
}

type repository struct {
	base repo.Base
}

// NewRepository returns an asset repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{base: r.base.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, asset *models.Asset) error {
	return r.base.DB(ctx).Create(asset).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	found, err := repo.Take(r.base.DB(ctx).Where("id = ?", id), &asset)
	if err != nil || !found {
		return nil, err
	}
	return &asset, nil
}

func (r *repository) List(ctx context.Context, filter listFilter) ([]models.Asset, error) {
	query := r.base.DB(ctx).Model(&models.Asset{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	switch {
	case filter.HomeBase != "" && len(filter.IDs) > 0:
		query = query.Where("(LOWER(home_base) = ? OR id IN ?)", normalizeBase(filter.HomeBase), filter.IDs)
	case filter.HomeBase != "":
		query = query.Where("LOWER(home_base) = ?", normalizeBase(filter.HomeBase))
	case filter.IDs != nil:
		if len(filter.IDs) == 0 {
			return nil, nil
		}
		query = query.Where("id IN ?", filter.IDs)
	}

	var assets []models.Asset
	if err := query.Order("created_at ASC, id ASC").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// MemoryRepository keeps the catalog in process memory in insertion order.
type MemoryRepository struct {
	mu     sync.RWMutex
	assets []models.Asset
	byID   map[uuid.UUID]int
}

// NewMemoryRepository returns an empty in-memory catalog.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]int)}
}

func (r *MemoryRepository) WithTx(*gorm.DB) Repository {
	return r
}

func (r *MemoryRepository) Create(ctx context.Context, asset *models.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[asset.ID]; exists {
		return errors.New("asset already exists")
	}
	r.byID[asset.ID] = len(r.assets)
	r.assets = append(r.assets, *asset)
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	asset := r.assets[idx]
	return &asset, nil
}

func (r *MemoryRepository) List(ctx context.Context, filter listFilter) ([]models.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids map[uuid.UUID]struct{}
	if filter.IDs != nil {
		ids = make(map[uuid.UUID]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = struct{}{}
		}
	}

	var out []models.Asset
	for _, asset := range r.assets {
		if filter.Type != "" && asset.Type != filter.Type {
			continue
		}
		homeMatch := filter.HomeBase != "" && normalizeBase(asset.HomeBase) == normalizeBase(filter.HomeBase)
		_, idMatch := ids[asset.ID]
		switch {
		case filter.HomeBase != "" && ids != nil:
			if !homeMatch && !idMatch {
				continue
			}
		case filter.HomeBase != "":
			if !homeMatch {
				continue
			}
		case ids != nil:
			if !idMatch {
				continue
			}
		}
		out = append(out, asset)
	}
	return out, nil
}

func normalizeBase(base string) string {
	return strings.ToLower(strings.TrimSpace(base))
}
