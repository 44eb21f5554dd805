package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/integrity"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/manifest"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/permission"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/id"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
)

// Fetcher downloads the authoritative manifest of a mini-app version
type Fetcher interface {
	FetchManifest(ctx context.Context, appID, versionID, lang string) (types.Manifest, error)
}

// Status is the terminal state of a successful run
type Status string

const (
	// StatusLaunchable means the manifest was verified and every required
	// permission is granted
	StatusLaunchable Status = "launchable"
	// StatusDegraded means the platform was unreachable and the run fell back
	// to a trusted cached manifest
	StatusDegraded Status = "degraded"
)

// Outcome describes a completed reconciliation
type Outcome struct {
	RunID     id.RunID
	AppID     string
	VersionID string
	// CachedVersionID is the version of the manifest now in the cache. It
	// differs from VersionID only in degraded runs.
	CachedVersionID string
	Manifest        types.Manifest
	Permissions     types.PermissionSet
	Status          Status
	// Refreshed is set when a new manifest was stored during the run
	Refreshed bool
	// Trusted is false when the integrity gate failed and the manifest was
	// downloaded again
	Trusted bool
}

// Engine aligns the cached manifest and stored permissions of a mini-app
// with the platform's manifest
type Engine struct {
	cache    *manifest.Cache
	perms    *permission.Store
	verifier *integrity.Verifier
	fetcher  Fetcher

	lang    string
	log     *zap.Logger
	metrics *monitoring.Metrics
	locks   *keyLock
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLanguage sets the language requested for permission descriptions
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.lang = lang }
}

// NewEngine creates a reconciliation engine over the given stores
func NewEngine(cache *manifest.Cache, perms *permission.Store, verifier *integrity.Verifier, fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		cache:    cache,
		perms:    perms,
		verifier: verifier,
		fetcher:  fetcher,
		log:      zap.NewNop(),
		locks:    newKeyLock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// VerifyManifest reconciles appID against versionID. It returns nil when the
// mini-app may launch, including the degraded offline case, and a
// *types.RequiredPermissionsNotGrantedError when a required permission is
// not ALLOWED.
func (e *Engine) VerifyManifest(ctx context.Context, appID, versionID string) error {
	_, err := e.Verify(ctx, appID, versionID)
	return err
}

// Verify is VerifyManifest returning the details of the run
func (e *Engine) Verify(ctx context.Context, appID, versionID string) (*Outcome, error) {
	if appID == "" {
		return nil, types.InvalidArgument("app id is required")
	}
	if versionID == "" {
		return nil, types.InvalidArgument("version id is required")
	}

	unlock, err := e.locks.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r := &run{
		Engine: e,
		out: &Outcome{
			RunID:     id.NewRunID(),
			AppID:     appID,
			VersionID: versionID,
			Status:    StatusLaunchable,
			Trusted:   true,
		},
	}
	r.log = e.log.With(
		zap.String("app_id", appID),
		zap.String("version_id", versionID),
		zap.String("run_id", r.out.RunID.String()))

	timer := monitoring.NewTimer(e.metrics, "reconcile", "verify_manifest")
	err = r.execute(ctx)
	outcome := outcomeLabel(r.out, err)
	elapsed := timer.Stop(outcome)
	e.metrics.RecordReconciliation(outcome)

	if err != nil {
		r.log.Info("Reconciliation failed", zap.Error(err), zap.Duration("duration", elapsed))
		return nil, err
	}
	r.log.Debug("Reconciliation finished",
		zap.String("status", string(r.out.Status)),
		zap.Bool("refreshed", r.out.Refreshed),
		zap.Bool("trusted", r.out.Trusted),
		zap.Duration("duration", elapsed))
	return r.out, nil
}

// Locked runs fn while holding appID's reconciliation lock, so permission
// edits cannot interleave with a run
func (e *Engine) Locked(ctx context.Context, appID string, fn func(context.Context) error) error {
	unlock, err := e.locks.Lock(ctx, appID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// run holds the state of one reconciliation
type run struct {
	*Engine
	out *Outcome
	log *zap.Logger
}

func (r *run) execute(ctx context.Context) error {
	appID := r.out.AppID

	cached, err := r.readCache(ctx)
	if err != nil {
		return err
	}

	// Opportunistic refresh; offline falls back to the cache
	if err := r.refresh(ctx, cached, false); err != nil {
		if !errors.Is(err, types.ErrNetwork) {
			return err
		}
		r.log.Warn("Unable to retrieve latest manifest, device appears offline; using cached manifest", zap.Error(err))
		r.out.Status = StatusDegraded
	}

	// The gate looks at what the cache holds now, after any refresh
	current, err := r.readCache(ctx)
	if err != nil {
		return err
	}

	trusted := false
	if current != nil {
		trusted, err = r.verifier.Verify(ctx, appID, r.cache.ManifestFile(appID))
		if err != nil {
			return err
		}
	}

	if !trusted {
		r.log.Info("Cached manifest failed integrity check, downloading again", zap.Bool("cached", current != nil))
		r.out.Trusted = false
		r.out.Status = StatusLaunchable
		if err := r.refresh(ctx, current, true); err != nil {
			return err
		}
		if err := r.verifier.Wait(ctx, appID); err != nil {
			return err
		}
		if current, err = r.cache.Read(ctx, appID); err != nil {
			return err
		}
		if current == nil {
			return &types.PersistenceError{Op: "read manifest", Key: appID, Err: errors.New("manifest missing after store")}
		}
	}

	r.out.CachedVersionID = current.VersionID
	r.out.Manifest = current.Manifest
	return r.reconcilePermissions(ctx, current.Manifest)
}

// readCache loads the cached manifest. A record that no longer decodes is
// treated as absent, so the run downloads and stores it again.
func (r *run) readCache(ctx context.Context) (*types.CachedManifest, error) {
	cached, err := r.cache.Read(ctx, r.out.AppID)
	if manifest.IsCorrupt(err) {
		r.log.Warn("Cached manifest is corrupt, treating it as not cached", zap.Error(err))
		return nil, nil
	}
	return cached, err
}

// refresh fetches the manifest and stores it when it differs from cached.
// force stores regardless, which also refreshes the digest.
func (r *run) refresh(ctx context.Context, cached *types.CachedManifest, force bool) error {
	appID, versionID := r.out.AppID, r.out.VersionID

	fetched, err := r.fetcher.FetchManifest(ctx, appID, versionID, r.lang)
	r.metrics.RecordFetch(fetchResult(err))
	if err != nil {
		return err
	}
	// An abandoned request must not leave a store behind
	if err := ctx.Err(); err != nil {
		return err
	}

	changed := cached == nil ||
		cached.VersionID != versionID ||
		!types.ManifestsEqual(&fetched, &cached.Manifest)
	if !changed && !force {
		return nil
	}

	if err := r.cache.Store(ctx, appID, types.CachedManifest{VersionID: versionID, Manifest: fetched}); err != nil {
		return err
	}
	r.metrics.IncManifestStores()
	r.out.Refreshed = true
	r.log.Info("Stored manifest", zap.Bool("changed", changed), zap.Bool("forced", force))

	// Digest is sequenced after the store it covers
	r.verifier.StoreHash(appID, r.cache.ManifestFile(appID))
	return nil
}

// reconcilePermissions drops records for kinds the manifest no longer
// requests, adds NOT_YET_SET records for new kinds and checks that every
// required kind is ALLOWED
func (r *run) reconcilePermissions(ctx context.Context, m types.Manifest) error {
	appID := r.out.AppID
	kinds := m.AllKinds()

	current, err := r.perms.Read(ctx, appID)
	if err != nil {
		return err
	}

	retained := current.Retain(kinds)
	if pruned := len(current) - len(retained); pruned > 0 {
		if err := r.perms.PruneToKinds(ctx, appID, kinds); err != nil {
			return err
		}
		r.metrics.AddPermissionPrunes(pruned)
		r.log.Info("Pruned permissions no longer in manifest", zap.Int("removed", pruned))
	}

	next := retained.WithKinds(kinds)
	if len(next) > len(retained) {
		if err := r.perms.Write(ctx, appID, next); err != nil {
			return err
		}
	}
	r.out.Permissions = next

	// Launchability is judged on what was persisted
	granted, err := r.perms.HasAllRequiredGranted(ctx, appID, m.RequiredKinds())
	if err != nil {
		return err
	}
	if !granted {
		return &types.RequiredPermissionsNotGrantedError{
			AppID:     appID,
			VersionID: r.out.VersionID,
			Missing:   next.MissingGrants(m.RequiredKinds()),
		}
	}
	return nil
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return monitoring.FetchOK
	case errors.Is(err, types.ErrNetwork):
		return monitoring.FetchNetwork
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrNoPublishedVersion):
		return monitoring.FetchNotFound
	default:
		return monitoring.FetchError
	}
}

func outcomeLabel(out *Outcome, err error) string {
	switch {
	case err == nil && out.Status == StatusDegraded:
		return monitoring.OutcomeDegraded
	case err == nil:
		return monitoring.OutcomeLaunchable
	case errors.Is(err, types.ErrRequiredPermissionsDenied):
		return monitoring.OutcomeMissingPermissions
	default:
		return monitoring.OutcomeFailed
	}
}
