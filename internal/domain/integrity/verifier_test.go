package integrity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/manifest"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/utils"
)

func storeManifest(t *testing.T, cache *manifest.Cache, appID, version string) {
	t.Helper()
	err := cache.Store(context.Background(), appID, types.CachedManifest{
		VersionID: version,
		Manifest: types.Manifest{
			RequiredPermissions: []types.Permission{{Kind: types.KindUserName, Description: "hello"}},
		},
	})
	require.NoError(t, err)
}

func TestVerifyWithoutDigest(t *testing.T) {
	kv := storage.NewMemoryKV()
	cache := manifest.NewCache(kv)
	v := NewVerifier(kv, nil)
	ctx := context.Background()

	// Nothing stored at all
	ok, err := v.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Manifest stored but never hashed
	storeManifest(t, cache, "app-1", "v1")
	ok, err = v.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreHashThenVerify(t *testing.T) {
	for _, alg := range []utils.HashAlgorithm{utils.SHA256, utils.BLAKE2b256} {
		t.Run(string(alg), func(t *testing.T) {
			kv, err := storage.NewFileKV(t.TempDir())
			require.NoError(t, err)
			cache := manifest.NewCache(kv)
			v := NewVerifier(kv, utils.NewHasher(alg))
			ctx := context.Background()

			storeManifest(t, cache, "app-1", "v1")
			v.StoreHash("app-1", cache.ManifestFile("app-1"))

			// Verify awaits the pending write without an explicit Wait
			ok, err := v.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, v.Close(ctx))
		})
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	kv := storage.NewMemoryKV()
	cache := manifest.NewCache(kv)
	v := NewVerifier(kv, nil)
	ctx := context.Background()

	storeManifest(t, cache, "app-1", "v1")
	v.StoreHash("app-1", cache.ManifestFile("app-1"))
	require.NoError(t, v.Wait(ctx, "app-1"))

	// Bytes changed behind the cache's back
	require.NoError(t, kv.Put(ctx, "manifests/app-1", []byte(`{"versionId":"v1","miniAppManifest":{}}`)))

	ok, err := v.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAlgorithmChangeInvalidatesDigest(t *testing.T) {
	kv := storage.NewMemoryKV()
	cache := manifest.NewCache(kv)
	ctx := context.Background()

	storeManifest(t, cache, "app-1", "v1")
	sha := NewVerifier(kv, utils.NewHasher(utils.SHA256))
	sha.StoreHash("app-1", cache.ManifestFile("app-1"))
	require.NoError(t, sha.Wait(ctx, "app-1"))

	blake := NewVerifier(kv, utils.NewHasher(utils.BLAKE2b256))
	ok, err := blake.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreHashMissingManifestClearsDigest(t *testing.T) {
	kv := storage.NewMemoryKV()
	cache := manifest.NewCache(kv)
	v := NewVerifier(kv, nil)
	ctx := context.Background()

	storeManifest(t, cache, "app-1", "v1")
	v.StoreHash("app-1", cache.ManifestFile("app-1"))
	require.NoError(t, v.Wait(ctx, "app-1"))

	require.NoError(t, kv.Delete(ctx, "manifests/app-1"))
	v.StoreHash("app-1", cache.ManifestFile("app-1"))
	require.NoError(t, v.Wait(ctx, "app-1"))

	_, err := kv.Get(ctx, "digests/app-1")
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

// gatedKV blocks digest writes until release is closed
type gatedKV struct {
	storage.KV
	release chan struct{}
	once    sync.Once
	entered chan struct{}
}

func (g *gatedKV) Put(ctx context.Context, key string, data []byte) error {
	if key == "digests/app-1" {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.KV.Put(ctx, key, data)
}

func TestVerifyWaitsForPendingWrite(t *testing.T) {
	kv := &gatedKV{KV: storage.NewMemoryKV(), release: make(chan struct{}), entered: make(chan struct{})}
	cache := manifest.NewCache(kv)
	v := NewVerifier(kv, nil)
	ctx := context.Background()

	storeManifest(t, cache, "app-1", "v1")
	v.StoreHash("app-1", cache.ManifestFile("app-1"))
	<-kv.entered

	result := make(chan bool, 1)
	go func() {
		ok, _ := v.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
		result <- ok
	}()

	select {
	case <-result:
		t.Fatal("Verify returned before the digest write finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(kv.release)
	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Verify did not return after the write finished")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	kv := &gatedKV{KV: storage.NewMemoryKV(), release: make(chan struct{}), entered: make(chan struct{})}
	cache := manifest.NewCache(kv)
	v := NewVerifier(kv, nil)

	storeManifest(t, cache, "app-1", "v1")
	v.StoreHash("app-1", cache.ManifestFile("app-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, v.Wait(ctx, "app-1"), context.DeadlineExceeded)

	_, err := v.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Close with an expired budget cancels the stuck write
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer closeCancel()
	assert.ErrorIs(t, v.Close(closeCtx), context.DeadlineExceeded)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	kv := storage.NewMemoryKV()
	cache := manifest.NewCache(kv)
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	v := NewVerifier(kv, nil, WithMetrics(metrics))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		storeManifest(t, cache, id, "v1")
		v.StoreHash(id, cache.ManifestFile(id))
	}
	require.NoError(t, v.Close(ctx))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.DigestWrites.WithLabelValues("ok")))

	for _, id := range []string{"a", "b", "c"} {
		_, err := kv.Get(ctx, "digests/"+id)
		assert.NoError(t, err, id)
	}

	// Writes after close are dropped
	storeManifest(t, cache, "d", "v1")
	v.StoreHash("d", cache.ManifestFile("d"))
	_, err := kv.Get(ctx, "digests/d")
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

type failingPutKV struct {
	storage.KV
}

func (f failingPutKV) Put(ctx context.Context, key string, data []byte) error {
	if key == "digests/app-1" {
		return errors.New("disk full")
	}
	return f.KV.Put(ctx, key, data)
}

func TestFailedWriteSurfacesThroughWait(t *testing.T) {
	kv := failingPutKV{storage.NewMemoryKV()}
	cache := manifest.NewCache(kv)
	v := NewVerifier(kv, nil)
	ctx := context.Background()

	storeManifest(t, cache, "app-1", "v1")
	v.StoreHash("app-1", cache.ManifestFile("app-1"))
	assert.ErrorIs(t, v.Wait(ctx, "app-1"), types.ErrPersistence)
}

func TestSameAppWritesAreOrdered(t *testing.T) {
	kv := storage.NewMemoryKV()
	cache := manifest.NewCache(kv)
	v := NewVerifier(kv, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		storeManifest(t, cache, "app-1", "v"+string(rune('a'+i)))
		v.StoreHash("app-1", cache.ManifestFile("app-1"))
	}

	// The last write reflects the last stored bytes
	ok, err := v.Verify(ctx, "app-1", cache.ManifestFile("app-1"))
	require.NoError(t, err)
	assert.True(t, ok)
}
