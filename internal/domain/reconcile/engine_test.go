package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/testutil"
)

const appID = "app-1"

var errOffline = &types.NetworkError{AppID: appID, VersionID: "v1", Err: errors.New("dial tcp: connection refused")}

type fixture struct {
	stores  *testutil.Stores
	fetcher *testutil.MockFetcher
	metrics *monitoring.Metrics
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	stores := testutil.NewStores(t)
	fetcher := testutil.NewMockFetcher(t)
	return &fixture{
		stores:  stores,
		fetcher: fetcher,
		metrics: metrics,
		engine: NewEngine(stores.Cache, stores.Perms, stores.Verifier, fetcher,
			WithMetrics(metrics), WithLanguage("en")),
	}
}

func (f *fixture) expectFetch(versionID string, m types.Manifest, err error) *mock.Call {
	return f.fetcher.On("FetchManifest", mock.Anything, appID, versionID, "en").Return(m, err).Once()
}

func (f *fixture) storeCount() float64 {
	return promtest.ToFloat64(f.metrics.ManifestStores)
}

func (f *fixture) rawManifest(t *testing.T) []byte {
	t.Helper()
	data, err := f.stores.KV.Get(context.Background(), "manifests/"+appID)
	require.NoError(t, err)
	return data
}

func TestFirstLaunchWithEmptyManifest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.expectFetch("v1", testutil.CreateTestManifest(nil, nil), nil)

	out, err := f.engine.Verify(ctx, appID, "v1")
	require.NoError(t, err)

	assert.Equal(t, StatusLaunchable, out.Status)
	assert.True(t, out.Refreshed)
	assert.True(t, out.Trusted)
	assert.Equal(t, "v1", out.CachedVersionID)
	assert.Empty(t, out.Permissions)
	assert.NotEmpty(t, out.RunID)
	f.fetcher.AssertNumberOfCalls(t, "FetchManifest", 1)

	cached, err := f.stores.Cache.Read(ctx, appID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "v1", cached.VersionID)

	ok, err := f.stores.Verifier.Verify(ctx, appID, f.stores.Cache.ManifestFile(appID))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrustedCacheFetchesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cachedManifest := testutil.CreateTestManifest(testutil.Kinds(types.KindUserName), nil)
	f.stores.Seed(t, appID, types.CachedManifest{VersionID: "v1", Manifest: cachedManifest},
		testutil.Grants(types.KindUserName, types.GrantAllowed))
	before := f.rawManifest(t)

	// Only descriptions changed on the server
	fetched := testutil.CreateTestManifest(testutil.Kinds(types.KindUserName), nil)
	fetched.RequiredPermissions[0].Description = "we would like to greet you by name"
	f.expectFetch("v1", fetched, nil)

	out, err := f.engine.Verify(ctx, appID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusLaunchable, out.Status)
	assert.False(t, out.Refreshed)
	assert.True(t, out.Trusted)

	f.fetcher.AssertNumberOfCalls(t, "FetchManifest", 1)
	assert.Equal(t, 0.0, f.storeCount())
	assert.Equal(t, before, f.rawManifest(t))
}

func TestOfflineWithTrustedCacheDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stores.Seed(t, appID,
		types.CachedManifest{VersionID: "v1", Manifest: testutil.CreateTestManifest(testutil.Kinds(types.KindLocation), nil)},
		testutil.Grants(types.KindLocation, types.GrantAllowed))
	before := f.rawManifest(t)
	f.expectFetch("v2", types.Manifest{}, errOffline)

	out, err := f.engine.Verify(ctx, appID, "v2")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, out.Status)
	assert.Equal(t, "v1", out.CachedVersionID)
	assert.False(t, out.Refreshed)

	f.fetcher.AssertNumberOfCalls(t, "FetchManifest", 1)
	assert.Equal(t, before, f.rawManifest(t))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Reconciliations.WithLabelValues(monitoring.OutcomeDegraded)))
}

func TestNewRequiredPermissionBlocksLaunch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stores.Seed(t, appID,
		types.CachedManifest{VersionID: "v1", Manifest: testutil.CreateTestManifest(testutil.Kinds(types.KindLocation), nil)},
		testutil.Grants(types.KindLocation, types.GrantAllowed))
	f.expectFetch("v1", testutil.CreateTestManifest(testutil.Kinds(types.KindLocation, types.KindContactList), nil), nil)

	err := f.engine.VerifyManifest(ctx, appID, "v1")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRequiredPermissionsDenied)

	var denied *types.RequiredPermissionsNotGrantedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, appID, denied.AppID)
	assert.Equal(t, "v1", denied.VersionID)
	assert.Equal(t, []types.PermissionKind{types.KindContactList}, denied.Missing)

	cached, err := f.stores.Cache.Read(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Kinds(types.KindLocation, types.KindContactList), cached.Manifest.RequiredKinds())

	perms, err := f.stores.Perms.Read(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Grants(
		types.KindLocation, types.GrantAllowed,
		types.KindContactList, types.GrantNotYetSet,
	), perms)
	f.fetcher.AssertNumberOfCalls(t, "FetchManifest", 1)
	assert.Equal(t, 1.0, f.storeCount())
}

// flakyPermsKV fails permission reads after the first n
type flakyPermsKV struct {
	storage.KV
	reads atomic.Int32
	n     int32
}

func (k *flakyPermsKV) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, "permissions/") && k.reads.Add(1) > k.n {
		return nil, errors.New("disk unavailable")
	}
	return k.KV.Get(ctx, key)
}

func TestLaunchCheckReadsStoredGrants(t *testing.T) {
	kv := &flakyPermsKV{KV: storage.NewMemoryKV(), n: 1}
	stores := testutil.NewStoresOn(t, kv)
	fetcher := testutil.NewMockFetcher(t)
	engine := NewEngine(stores.Cache, stores.Perms, stores.Verifier, fetcher, WithLanguage("en"))

	m := testutil.CreateTestManifest(testutil.Kinds(types.KindLocation), nil)
	stores.Seed(t, appID, types.CachedManifest{VersionID: "v1", Manifest: m},
		testutil.Grants(types.KindLocation, types.GrantAllowed))
	fetcher.On("FetchManifest", mock.Anything, appID, "v1", "en").Return(m, nil).Once()

	// The reconciliation read succeeds, the launch check reads the store again
	err := engine.VerifyManifest(context.Background(), appID, "v1")
	assert.ErrorIs(t, err, types.ErrPersistence)
	assert.EqualValues(t, 2, kv.reads.Load())
}

func TestRemovedKindsArePruned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stores.Seed(t, appID,
		types.CachedManifest{VersionID: "v1", Manifest: testutil.CreateTestManifest(
			testutil.Kinds(types.KindUserName, types.KindLocation), testutil.Kinds(types.KindPoints))},
		testutil.Grants(
			types.KindUserName, types.GrantAllowed,
			types.KindLocation, types.GrantAllowed,
			types.KindPoints, types.GrantDenied,
			types.KindContactList, types.GrantAllowed,
		))
	f.expectFetch("v2", testutil.CreateTestManifest(testutil.Kinds(types.KindUserName), testutil.Kinds(types.KindPoints)), nil)

	out, err := f.engine.Verify(ctx, appID, "v2")
	require.NoError(t, err)
	assert.True(t, out.Refreshed)

	perms, err := f.stores.Perms.Read(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Grants(
		types.KindUserName, types.GrantAllowed,
		types.KindPoints, types.GrantDenied,
	), perms)
	assert.Equal(t, perms, out.Permissions)
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.PermissionPrunes))
}

func TestVersionChangeStoresEvenIfEqual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := testutil.CreateTestManifest(nil, testutil.Kinds(types.KindLocation))
	f.stores.Seed(t, appID, types.CachedManifest{VersionID: "v1", Manifest: m}, nil)
	f.expectFetch("v2", m, nil)

	out, err := f.engine.Verify(ctx, appID, "v2")
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.Equal(t, "v2", out.CachedVersionID)

	cached, err := f.stores.Cache.Read(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, "v2", cached.VersionID)
}

func TestMetadataChangeStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := testutil.CreateTestManifest(nil, nil)
	f.stores.Seed(t, appID, types.CachedManifest{VersionID: "v1", Manifest: m}, nil)

	changed := testutil.CreateTestManifest(nil, nil)
	changed.CustomMetadata["theme"] = "dark"
	f.expectFetch("v1", changed, nil)

	out, err := f.engine.Verify(ctx, appID, "v1")
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.Equal(t, "dark", out.Manifest.CustomMetadata["theme"])
}

func TestNotFoundWithCachePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stores.Seed(t, appID, types.CachedManifest{VersionID: "v1", Manifest: testutil.CreateTestManifest(nil, nil)}, nil)
	before := f.rawManifest(t)
	f.expectFetch("v1", types.Manifest{}, &types.NotFoundError{AppID: appID, VersionID: "v1"})

	err := f.engine.VerifyManifest(ctx, appID, "v1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NotErrorIs(t, err, types.ErrNetwork)
	assert.Equal(t, before, f.rawManifest(t))
}

func TestUnexpectedFetchErrorsPropagate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no published version", &types.NoPublishedVersionError{AppID: appID}, types.ErrNoPublishedVersion},
		{"bad status", &types.FetchError{AppID: appID, VersionID: "v1", StatusCode: 403}, types.ErrFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.expectFetch("v1", types.Manifest{}, tt.err)

			_, err := f.engine.Verify(context.Background(), appID, "v1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTamperedCacheIsDownloadedAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := testutil.CreateTestManifest(testutil.Kinds(types.KindUserName), nil)
	f.stores.Seed(t, appID, types.CachedManifest{VersionID: "v1", Manifest: m},
		testutil.Grants(types.KindUserName, types.GrantAllowed))

	// Same content, different bytes: equality holds so the first refresh
	// stores nothing and the gate sees the mismatch
	require.NoError(t, f.stores.KV.Put(ctx, "manifests/"+appID,
		[]byte(`{"versionId":"v1","miniAppManifest":{"reqPermissions":[{"name":"miniapp.user.USER_NAME","reason":"x"}],"optPermissions":[],"customMetaData":{}}}`)))

	f.expectFetch("v1", m, nil).Twice()

	out, err := f.engine.Verify(ctx, appID, "v1")
	require.NoError(t, err)
	assert.False(t, out.Trusted)
	assert.True(t, out.Refreshed)
	f.fetcher.AssertNumberOfCalls(t, "FetchManifest", 2)
	assert.Equal(t, 1.0, f.storeCount())

	ok, err := f.stores.Verifier.Verify(ctx, appID, f.stores.Cache.ManifestFile(appID))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptCacheIsDownloadedAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := testutil.CreateTestManifest(testutil.Kinds(types.KindUserName), nil)
	f.stores.Seed(t, appID, types.CachedManifest{VersionID: "v1", Manifest: m},
		testutil.Grants(types.KindUserName, types.GrantAllowed))

	// Truncated write: the record no longer decodes
	require.NoError(t, f.stores.KV.Put(ctx, "manifests/"+appID, []byte(`{"versionId":"v1","miniAppMan`)))

	f.expectFetch("v1", m, nil)

	out, err := f.engine.Verify(ctx, appID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusLaunchable, out.Status)
	assert.True(t, out.Refreshed)
	assert.Equal(t, testutil.Grants(types.KindUserName, types.GrantAllowed), out.Permissions)
	assert.Equal(t, 1.0, f.storeCount())

	cached, err := f.stores.Cache.Read(ctx, appID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "v1", cached.VersionID)

	ok, err := f.stores.Verifier.Verify(ctx, appID, f.stores.Cache.ManifestFile(appID))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptCacheOfflineFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.stores.KV.Put(ctx, "manifests/"+appID, []byte(`{"versionId":`)))
	f.expectFetch("v1", types.Manifest{}, errOffline).Twice()

	err := f.engine.VerifyManifest(ctx, appID, "v1")
	assert.ErrorIs(t, err, types.ErrNetwork)
	assert.NotErrorIs(t, err, types.ErrPersistence)
	f.fetcher.AssertNumberOfCalls(t, "FetchManifest", 2)
}

func TestUntrustedPathPropagatesNetworkError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Manifest cached without a digest
	require.NoError(t, f.stores.Cache.Store(ctx, appID, types.CachedManifest{VersionID: "v1", Manifest: testutil.CreateTestManifest(nil, nil)}))
	f.expectFetch("v1", types.Manifest{}, errOffline).Twice()

	err := f.engine.VerifyManifest(ctx, appID, "v1")
	assert.ErrorIs(t, err, types.ErrNetwork)
	f.fetcher.AssertNumberOfCalls(t, "FetchManifest", 2)
}

func TestOfflineWithoutCacheFails(t *testing.T) {
	f := newFixture(t)
	f.expectFetch("v1", types.Manifest{}, errOffline).Twice()

	_, err := f.engine.Verify(context.Background(), appID, "v1")
	assert.ErrorIs(t, err, types.ErrNetwork)

	cached, err := f.stores.Cache.Read(context.Background(), appID)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestCancelledFetchStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.fetcher.On("FetchManifest", mock.Anything, appID, "v1", "en").
		Run(func(mock.Arguments) { cancel() }).
		Return(testutil.CreateTestManifest(nil, nil), nil).
		Once()

	_, err := f.engine.Verify(ctx, appID, "v1")
	assert.ErrorIs(t, err, context.Canceled)

	cached, err := f.stores.Cache.Read(context.Background(), appID)
	require.NoError(t, err)
	assert.Nil(t, cached)
	assert.Equal(t, 0.0, f.storeCount())
}

func TestInvalidArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Verify(context.Background(), "", "v1")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = f.engine.Verify(context.Background(), appID, "")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestSameAppRunsAreSerialised(t *testing.T) {
	f := newFixture(t)

	var inFlight, maxInFlight int32
	f.fetcher.On("FetchManifest", mock.Anything, appID, "v1", "en").
		Run(func(mock.Arguments) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}).
		Return(testutil.CreateTestManifest(nil, nil), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.engine.VerifyManifest(context.Background(), appID, "v1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, 0, f.engine.locks.size())
	// Only the first run finds a changed manifest
	assert.Equal(t, 1.0, f.storeCount())
}
