package manifest

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
)

// File is a handle on the stored manifest of one mini-app. It does not imply
// the manifest exists.
type File struct {
	AppID string
	Path  string
	kv    storage.KV
	key   string
}

// Open returns the stored bytes exactly as written. A missing manifest
// yields storage.ErrNotExist.
func (f File) Open(ctx context.Context) (io.ReadCloser, error) {
	data, err := f.kv.Get(ctx, f.key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Cache persists the downloaded manifest of every mini-app
type Cache struct {
	kv storage.KV
}

// NewCache creates a manifest cache on top of kv
func NewCache(kv storage.KV) *Cache {
	return &Cache{kv: kv}
}

// Read returns the cached manifest, or nil if none was ever stored. A record
// that no longer decodes fails with a PersistenceError matched by IsCorrupt.
func (c *Cache) Read(ctx context.Context, appID string) (*types.CachedManifest, error) {
	key := paths.Key(paths.Manifests, appID)

	var cached types.CachedManifest
	found, err := storage.GetRecord(ctx, c.kv, key, &cached)
	if err != nil {
		return nil, &types.PersistenceError{Op: "read manifest", Key: key, Err: err}
	}
	if !found {
		return nil, nil
	}
	return &cached, nil
}

// IsCorrupt reports whether err comes from a stored manifest whose bytes no
// longer decode, as opposed to a failing storage medium
func IsCorrupt(err error) bool {
	return errors.Is(err, storage.ErrCorrupt)
}

// Store replaces the cached manifest. The record is durable when Store returns.
func (c *Cache) Store(ctx context.Context, appID string, cached types.CachedManifest) error {
	key := paths.Key(paths.Manifests, appID)
	if err := storage.PutRecord(ctx, c.kv, key, cached); err != nil {
		return &types.PersistenceError{Op: "store manifest", Key: key, Err: err}
	}
	return nil
}

// ManifestFile returns the deterministic handle of appID's stored manifest
func (c *Cache) ManifestFile(appID string) File {
	key := paths.Key(paths.Manifests, appID)
	return File{
		AppID: appID,
		Path:  c.kv.Locate(key),
		kv:    c.kv,
		key:   key,
	}
}

// List returns the ids of every mini-app with a cached manifest
func (c *Cache) List(ctx context.Context) ([]string, error) {
	ids, err := c.kv.List(ctx, paths.Manifests)
	if err != nil {
		return nil, &types.PersistenceError{Op: "list manifests", Key: paths.Manifests, Err: err}
	}
	return ids, nil
}
