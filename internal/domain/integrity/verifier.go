package integrity

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/manifest"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/utils"
)

// Digest is the persisted hash of a stored manifest
type Digest struct {
	AppID     string              `json:"appId"`
	Algorithm utils.HashAlgorithm `json:"algorithm"`
	Value     string              `json:"digest"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// task is one tracked digest write
type task struct {
	done chan struct{}
	err  error
}

// Verifier records and checks digests of stored manifests. Digest writes run
// as background tasks; Verify and Wait observe their completion so a check
// never races the write that precedes it.
type Verifier struct {
	kv      storage.KV
	hasher  *utils.Hasher
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	pending map[string]*task
	wg      sync.WaitGroup
	closed  bool

	// base bounds background writes; cancelled when Close gives up waiting
	base   context.Context
	cancel context.CancelFunc
}

// Option configures a Verifier
type Option func(*Verifier)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(v *Verifier) { v.log = log }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier creates a verifier persisting digests in kv
func NewVerifier(kv storage.KV, hasher *utils.Hasher, opts ...Option) *Verifier {
	if hasher == nil {
		hasher = utils.DefaultHasher()
	}
	base, cancel := context.WithCancel(context.Background())
	v := &Verifier{
		kv:      kv,
		hasher:  hasher,
		log:     zap.NewNop(),
		pending: make(map[string]*task),
		base:    base,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Algorithm returns the digest algorithm in use
func (v *Verifier) Algorithm() utils.HashAlgorithm {
	return v.hasher.Algorithm()
}

// StoreHash digests file in the background and records the result for
// appID. Tasks for the same app run in submission order.
func (v *Verifier) StoreHash(appID string, file manifest.File) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		v.log.Warn("Digest write dropped after close", zap.String("app_id", appID))
		return
	}
	prev := v.pending[appID]
	t := &task{done: make(chan struct{})}
	v.pending[appID] = t
	v.wg.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.wg.Done()
		if prev != nil {
			<-prev.done
		}

		t.err = v.writeDigest(v.base, appID, file)
		if t.err != nil {
			v.log.Error("Digest write failed", zap.String("app_id", appID), zap.Error(t.err))
			v.metrics.RecordDigestWrite("error")
		} else {
			v.metrics.RecordDigestWrite("ok")
		}
		close(t.done)

		v.mu.Lock()
		if v.pending[appID] == t {
			delete(v.pending, appID)
		}
		v.mu.Unlock()
	}()
}

// Wait blocks until the latest digest write for appID has finished and
// returns its error
func (v *Verifier) Wait(ctx context.Context, appID string) error {
	v.mu.Lock()
	t := v.pending[appID]
	v.mu.Unlock()
	if t == nil {
		return nil
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Verify reports whether the stored bytes of file match the recorded digest.
// A missing file or digest is a mismatch, not an error.
func (v *Verifier) Verify(ctx context.Context, appID string, file manifest.File) (bool, error) {
	if err := v.Wait(ctx, appID); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Failed write leaves a stale digest; the comparison below rejects it
		v.log.Warn("Verifying after failed digest write", zap.String("app_id", appID), zap.Error(err))
	}

	sum, ok, err := v.digestFile(ctx, file)
	if err != nil {
		return false, err
	}
	if !ok {
		v.metrics.RecordDigestCheck(monitoring.DigestMissing)
		return false, nil
	}

	key := paths.Key(paths.Digests, appID)
	var stored Digest
	found, err := storage.GetRecord(ctx, v.kv, key, &stored)
	if err != nil {
		return false, &types.PersistenceError{Op: "read digest", Key: key, Err: err}
	}
	if !found {
		v.metrics.RecordDigestCheck(monitoring.DigestMissing)
		return false, nil
	}

	match := stored.Algorithm == v.hasher.Algorithm() &&
		subtle.ConstantTimeCompare([]byte(stored.Value), []byte(sum)) == 1
	if match {
		v.metrics.RecordDigestCheck(monitoring.DigestMatch)
	} else {
		v.metrics.RecordDigestCheck(monitoring.DigestMismatch)
		v.log.Debug("Digest mismatch",
			zap.String("app_id", appID),
			zap.String("stored_algorithm", string(stored.Algorithm)),
			zap.String("algorithm", string(v.hasher.Algorithm())))
	}
	return match, nil
}

// Close stops accepting digest writes and waits for the pending ones. If ctx
// ends first, the remaining writes are cancelled.
func (v *Verifier) Close(ctx context.Context) error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		v.cancel()
		return nil
	case <-ctx.Done():
		v.cancel()
		<-drained
		return ctx.Err()
	}
}

// writeDigest hashes the stored manifest bytes and persists the digest. A
// manifest that vanished clears the digest.
func (v *Verifier) writeDigest(ctx context.Context, appID string, file manifest.File) error {
	key := paths.Key(paths.Digests, appID)

	sum, ok, err := v.digestFile(ctx, file)
	if err != nil {
		return err
	}
	if !ok {
		if err := v.kv.Delete(ctx, key); err != nil {
			return &types.PersistenceError{Op: "clear digest", Key: key, Err: err}
		}
		return nil
	}

	rec := Digest{
		AppID:     appID,
		Algorithm: v.hasher.Algorithm(),
		Value:     sum,
		UpdatedAt: time.Now().UTC(),
	}
	if err := storage.PutRecord(ctx, v.kv, key, rec); err != nil {
		return &types.PersistenceError{Op: "write digest", Key: key, Err: err}
	}
	return nil
}

func (v *Verifier) digestFile(ctx context.Context, file manifest.File) (string, bool, error) {
	rc, err := file.Open(ctx)
	if errors.Is(err, storage.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &types.PersistenceError{Op: "open manifest", Key: file.Path, Err: err}
	}
	defer rc.Close()

	sum, err := v.hasher.HashReader(rc)
	if err != nil {
		return "", false, &types.PersistenceError{Op: "digest manifest", Key: file.Path, Err: err}
	}
	return sum, true, nil
}
