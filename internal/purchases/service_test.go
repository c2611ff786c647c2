package purchases

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/armory-ledger/internal/authz"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/db/models"
	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

var (
	admin     = authz.Caller{Role: enums.RoleAdmin}
	logistics = authz.Caller{Role: enums.RoleLogistics, HomeBase: "Base Alpha"}
	commander = authz.Caller{Role: enums.RoleBaseCommander, HomeBase: "Base Alpha"}
)

type fakeAssets map[uuid.UUID]*models.Asset

func (f fakeAssets) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	if asset, ok := f[id]; ok {
		return asset, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "asset not found")
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time {
	c.now = c.now.Add(24 * time.Hour)
	return c.now
}

func newService(t *testing.T, assets fakeAssets) (Service, *txlog.Log) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	log, err := txlog.New(txlog.NewMemoryStore(), txlog.Options{Clock: c.Now})
	require.NoError(t, err)
	svc, err := NewService(log, assets, nil)
	require.NoError(t, err)
	return svc, log
}

func TestRecordPurchase(t *testing.T) {
	rifle := &models.Asset{ID: uuid.New(), Name: "M4 Carbine", Type: enums.AssetTypeWeapon, HomeBase: "Base Alpha"}
	svc, log := newService(t, fakeAssets{rifle.ID: rifle})
	ctx := context.Background()

	purchase, err := svc.RecordPurchase(ctx, logistics, RecordPurchaseInput{AssetID: rifle.ID, Base: "Base Alpha", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, "Base Alpha", purchase.BaseName)
	assert.Equal(t, "M4 Carbine", purchase.Asset.Name)
	assert.Equal(t, int64(12), purchase.Quantity)

	stored, err := log.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionKindPurchase, stored.Kind)
	assert.Equal(t, enums.RoleLogistics, stored.ActorRole)
	assert.Equal(t, "Base Alpha", stored.ActorBase)
}

func TestRecordPurchaseRejections(t *testing.T) {
	rifle := &models.Asset{ID: uuid.New(), Name: "M4 Carbine", Type: enums.AssetTypeWeapon}
	svc, log := newService(t, fakeAssets{rifle.ID: rifle})
	ctx := context.Background()

	cases := []struct {
		name   string
		caller authz.Caller
		input  RecordPurchaseInput
		code   pkgerrors.Code
	}{
		{"zero quantity", admin, RecordPurchaseInput{AssetID: rifle.ID, Base: "Base Alpha"}, pkgerrors.CodeValidation},
		{"missing base", admin, RecordPurchaseInput{AssetID: rifle.ID, Quantity: 1}, pkgerrors.CodeValidation},
		{"other base", logistics, RecordPurchaseInput{AssetID: rifle.ID, Base: "Base Bravo", Quantity: 1}, pkgerrors.CodeForbidden},
		{"commander", commander, RecordPurchaseInput{AssetID: rifle.ID, Base: "Base Alpha", Quantity: 1}, pkgerrors.CodeForbidden},
		{"unknown asset", admin, RecordPurchaseInput{AssetID: uuid.New(), Base: "Base Alpha", Quantity: 1}, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		_, err := svc.RecordPurchase(ctx, tc.caller, tc.input)
		assert.True(t, pkgerrors.HasCode(err, tc.code), "%s: got %v", tc.name, err)
	}

	head, err := log.Head(ctx)
	require.NoError(t, err)
	assert.Zero(t, head)
}

func TestListPurchasesFilters(t *testing.T) {
	rifle := &models.Asset{ID: uuid.New(), Name: "M4 Carbine", Type: enums.AssetTypeWeapon}
	truck := &models.Asset{ID: uuid.New(), Name: "Humvee", Type: enums.AssetTypeVehicle}
	svc, log := newService(t, fakeAssets{rifle.ID: rifle, truck.ID: truck})
	ctx := context.Background()

	// One purchase per day starting 2024-05-02.
	for _, input := range []RecordPurchaseInput{
		{AssetID: rifle.ID, Base: "Base Alpha", Quantity: 1},
		{AssetID: truck.ID, Base: "Base Alpha", Quantity: 2},
		{AssetID: rifle.ID, Base: "Base Bravo", Quantity: 3},
		{AssetID: rifle.ID, Base: "Base Alpha", Quantity: 4},
	} {
		_, err := svc.RecordPurchase(ctx, admin, input)
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, txlog.Draft{Kind: enums.TransactionKindExpend, AssetID: rifle.ID, Base: "Base Alpha", Quantity: 1})
	require.NoError(t, err)

	all, err := svc.ListPurchases(ctx, admin, ListParams{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(4), all[0].Quantity)

	alpha, err := svc.ListPurchases(ctx, logistics, ListParams{Base: "Base Alpha", Type: enums.AssetTypeWeapon})
	require.NoError(t, err)
	require.Len(t, alpha, 2)
	assert.Equal(t, "weapon", string(alpha[1].Asset.Type))

	start := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 4, 23, 59, 59, 0, time.UTC)
	window, err := svc.ListPurchases(ctx, admin, ListParams{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, int64(3), window[0].Quantity)
	assert.Equal(t, int64(2), window[1].Quantity)

	bravo, err := svc.ListPurchases(ctx, logistics, ListParams{Base: "Base Bravo"})
	require.NoError(t, err)
	assert.Len(t, bravo, 1)

	_, err = svc.ListPurchases(ctx, commander, ListParams{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = svc.ListPurchases(ctx, admin, ListParams{Start: &end, End: &start})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
