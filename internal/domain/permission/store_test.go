package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
)

var allKinds = []types.PermissionKind{
	types.KindUserName,
	types.KindProfilePhoto,
	types.KindContactList,
	types.KindAccessToken,
	types.KindLocation,
	types.KindSendMessage,
	types.KindPoints,
	types.KindFileDownload,
}

var allGrants = []types.GrantState{types.GrantAllowed, types.GrantDenied, types.GrantNotYetSet}

func TestReadNeverInitialised(t *testing.T) {
	store := NewStore(storage.NewMemoryKV())

	set, err := store.Read(context.Background(), "app-1")
	require.NoError(t, err)
	assert.NotNil(t, set)
	assert.Empty(t, set)
}

func TestWriteAndRead(t *testing.T) {
	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	store := NewStore(kv)
	ctx := context.Background()

	set := types.PermissionSet{
		{Kind: types.KindUserName, Grant: types.GrantAllowed},
		{Kind: types.KindLocation, Grant: types.GrantDenied},
		{Kind: types.KindUserName, Grant: types.GrantDenied},
	}
	require.NoError(t, store.Write(ctx, "app-1", set))

	got, err := store.Read(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, types.PermissionSet{
		{Kind: types.KindUserName, Grant: types.GrantAllowed},
		{Kind: types.KindLocation, Grant: types.GrantDenied},
	}, got)

	// Apps are isolated
	other, err := store.Read(ctx, "app-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPruneToKinds(t *testing.T) {
	store := NewStore(storage.NewMemoryKV())
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "app-1", types.PermissionSet{
		{Kind: types.KindUserName, Grant: types.GrantAllowed},
		{Kind: types.KindContactList, Grant: types.GrantAllowed},
		{Kind: types.KindLocation, Grant: types.GrantDenied},
	}))

	require.NoError(t, store.PruneToKinds(ctx, "app-1", []types.PermissionKind{types.KindUserName, types.KindLocation}))

	got, err := store.Read(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, types.PermissionSet{
		{Kind: types.KindUserName, Grant: types.GrantAllowed},
		{Kind: types.KindLocation, Grant: types.GrantDenied},
	}, got)

	require.NoError(t, store.PruneToKinds(ctx, "app-1", nil))
	got, err = store.Read(ctx, "app-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHasAllRequiredGranted(t *testing.T) {
	store := NewStore(storage.NewMemoryKV())
	ctx := context.Background()

	ok, err := store.HasAllRequiredGranted(ctx, "app-1", nil)
	require.NoError(t, err)
	assert.True(t, ok, "no required kinds is trivially granted")

	ok, err = store.HasAllRequiredGranted(ctx, "app-1", []types.PermissionKind{types.KindUserName})
	require.NoError(t, err)
	assert.False(t, ok, "missing record counts as not granted")

	require.NoError(t, store.Apply(ctx, "app-1",
		Grant(types.KindUserName),
		Command{Kind: types.KindLocation, Grant: types.GrantNotYetSet},
	))

	ok, err = store.HasAllRequiredGranted(ctx, "app-1", []types.PermissionKind{types.KindUserName})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasAllRequiredGranted(ctx, "app-1", []types.PermissionKind{types.KindUserName, types.KindLocation})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApply(t *testing.T) {
	store := NewStore(storage.NewMemoryKV())
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, "app-1", Grant(types.KindUserName), Deny(types.KindLocation)))
	require.NoError(t, store.Apply(ctx, "app-1", Deny(types.KindUserName)))

	got, err := store.Read(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, types.PermissionSet{
		{Kind: types.KindUserName, Grant: types.GrantDenied},
		{Kind: types.KindLocation, Grant: types.GrantDenied},
	}, got)

	tests := []struct {
		name string
		cmd  Command
	}{
		{"empty kind", Command{Grant: types.GrantAllowed}},
		{"unknown grant", Command{Kind: types.KindUserName, Grant: "MAYBE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Apply(ctx, "app-1", tt.cmd)
			assert.ErrorIs(t, err, types.ErrInvalidArgument)
		})
	}

	// Rejected commands leave the store untouched
	after, err := store.Read(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, got, after)
}

type brokenKV struct {
	storage.KV
}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("io error") }

func TestReadStorageFailure(t *testing.T) {
	store := NewStore(brokenKV{storage.NewMemoryKV()})

	_, err := store.Read(context.Background(), "app-1")
	assert.ErrorIs(t, err, types.ErrPersistence)

	_, err = store.HasAllRequiredGranted(context.Background(), "app-1", []types.PermissionKind{types.KindUserName})
	assert.ErrorIs(t, err, types.ErrPersistence)
}

// genPermissionSet draws records from the fixed kind and grant tables
func genPermissionSet() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, len(allKinds)*len(allGrants)-1)).Map(func(idx []int) types.PermissionSet {
		set := make(types.PermissionSet, 0, len(idx))
		for _, i := range idx {
			set = append(set, types.PermissionRecord{
				Kind:  allKinds[i%len(allKinds)],
				Grant: allGrants[i/len(allKinds)],
			})
		}
		return set
	})
}

func genKinds() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, len(allKinds)-1)).Map(func(idx []int) []types.PermissionKind {
		kinds := make([]types.PermissionKind, 0, len(idx))
		for _, i := range idx {
			kinds = append(kinds, allKinds[i])
		}
		return kinds
	})
}

func TestPrunePreservesGrantsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("pruning is idempotent and keeps grant state", prop.ForAll(
		func(set types.PermissionSet, kinds []types.PermissionKind) bool {
			store := NewStore(storage.NewMemoryKV())
			ctx := context.Background()
			if err := store.Write(ctx, "app", set); err != nil {
				return false
			}
			before, _ := store.Read(ctx, "app")

			if err := store.PruneToKinds(ctx, "app", kinds); err != nil {
				return false
			}
			once, _ := store.Read(ctx, "app")
			if err := store.PruneToKinds(ctx, "app", kinds); err != nil {
				return false
			}
			twice, _ := store.Read(ctx, "app")
			if len(once) != len(twice) {
				return false
			}

			keep := make(map[types.PermissionKind]bool, len(kinds))
			for _, k := range kinds {
				keep[k] = true
			}
			for _, r := range once {
				if !keep[r.Kind] {
					return false
				}
				orig, ok := before.Get(r.Kind)
				if !ok || orig.Grant != r.Grant {
					return false
				}
			}
			for _, r := range before {
				if _, ok := once.Get(r.Kind); keep[r.Kind] && !ok {
					return false
				}
			}
			return true
		},
		genPermissionSet(),
		genKinds(),
	))

	properties.TestingRun(t)
}
