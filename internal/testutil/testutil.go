// Package testutil provides testing utilities and helpers for backend tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/integrity"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/manifest"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/permission"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
)

// MockFetcher is a mock implementation of the manifest fetcher for testing.
type MockFetcher struct {
	mock.Mock
}

// FetchManifest mocks the FetchManifest method.
func (m *MockFetcher) FetchManifest(ctx context.Context, appID, versionID, lang string) (types.Manifest, error) {
	args := m.Called(ctx, appID, versionID, lang)
	if args.Get(0) == nil {
		return types.Manifest{}, args.Error(1)
	}
	return args.Get(0).(types.Manifest), args.Error(1)
}

// NewMockFetcher creates a mock fetcher with no default behavior. Every test
// states the fetches it expects.
func NewMockFetcher(t *testing.T) *MockFetcher {
	t.Helper()
	m := new(MockFetcher)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Stores bundles the persistent stores over one KV medium
type Stores struct {
	KV       storage.KV
	Cache    *manifest.Cache
	Perms    *permission.Store
	Verifier *integrity.Verifier
}

// NewStores creates memory-backed stores. The verifier is drained when the
// test ends.
func NewStores(t *testing.T, opts ...integrity.Option) *Stores {
	t.Helper()
	return NewStoresOn(t, storage.NewMemoryKV(), opts...)
}

// NewStoresOn creates stores over kv
func NewStoresOn(t *testing.T, kv storage.KV, opts ...integrity.Option) *Stores {
	t.Helper()
	s := &Stores{
		KV:       kv,
		Cache:    manifest.NewCache(kv),
		Perms:    permission.NewStore(kv),
		Verifier: integrity.NewVerifier(kv, nil, opts...),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Verifier.Close(ctx)
	})
	return s
}

// Seed stores cached as if a previous run had verified it, digest included
func (s *Stores) Seed(t *testing.T, appID string, cached types.CachedManifest, perms types.PermissionSet) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Cache.Store(ctx, appID, cached))
	s.Verifier.StoreHash(appID, s.Cache.ManifestFile(appID))
	require.NoError(t, s.Verifier.Wait(ctx, appID))
	if perms != nil {
		require.NoError(t, s.Perms.Write(ctx, appID, perms))
	}
}

// CreateTestManifest builds a manifest from kind lists with generated
// descriptions.
func CreateTestManifest(required, optional []types.PermissionKind) types.Manifest {
	m := types.Manifest{CustomMetadata: map[string]string{}}
	for _, k := range required {
		m.RequiredPermissions = append(m.RequiredPermissions, types.Permission{Kind: k, Description: "needs " + string(k)})
	}
	for _, k := range optional {
		m.OptionalPermissions = append(m.OptionalPermissions, types.Permission{Kind: k, Description: "wants " + string(k)})
	}
	return m
}

// Kinds is shorthand for a kind list
func Kinds(kinds ...types.PermissionKind) []types.PermissionKind {
	return kinds
}

// Grants builds a permission set from kind/grant pairs
func Grants(pairs ...interface{}) types.PermissionSet {
	set := make(types.PermissionSet, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		set = append(set, types.PermissionRecord{
			Kind:  pairs[i].(types.PermissionKind),
			Grant: pairs[i+1].(types.GrantState),
		})
	}
	return set
}
