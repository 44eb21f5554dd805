package miniapp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/manifest"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/permission"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/reconcile"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/utils"
)

// Reconciler verifies mini-apps and serialises work per app
type Reconciler interface {
	Verify(ctx context.Context, appID, versionID string) (*reconcile.Outcome, error)
	Locked(ctx context.Context, appID string, fn func(context.Context) error) error
}

// Config describes a mini-app to create
type Config struct {
	AppID       string
	VersionID   string
	QueryParams string
}

// Manager orchestrates mini-app creation and custom permissions
type Manager struct {
	mu   sync.RWMutex
	apps map[string]*types.MiniApp // Protected by mu

	engine     Reconciler
	cache      *manifest.Cache
	perms      *permission.Store
	bundleRoot string
	log        *zap.Logger
	metrics    *monitoring.Metrics
}

// NewManager creates a new mini-app manager. Bundle paths are resolved
// below bundleRoot.
func NewManager(engine Reconciler, cache *manifest.Cache, perms *permission.Store, bundleRoot string) *Manager {
	return &Manager{
		apps:       make(map[string]*types.MiniApp),
		engine:     engine,
		cache:      cache,
		perms:      perms,
		bundleRoot: bundleRoot,
		log:        zap.NewNop(),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithLogger sets the manager's logger
func (m *Manager) WithLogger(log *zap.Logger) *Manager {
	m.log = log
	return m
}

// Create verifies the manifest of cfg.AppID and registers a launchable
// instance. Verification errors are returned unchanged.
func (m *Manager) Create(ctx context.Context, cfg Config) (*types.MiniApp, error) {
	if err := validateIDs(cfg.AppID, cfg.VersionID); err != nil {
		return nil, err
	}

	out, err := m.engine.Verify(ctx, cfg.AppID, cfg.VersionID)
	if err != nil {
		return nil, err
	}

	state := types.StateLaunchable
	if out.Status == reconcile.StatusDegraded {
		state = types.StateDegraded
	}

	app := &types.MiniApp{
		ID:              uuid.New().String(),
		AppID:           cfg.AppID,
		VersionID:       cfg.VersionID,
		RunID:           out.RunID.String(),
		State:           state,
		QueryParams:     cfg.QueryParams,
		CachedVersionID: out.CachedVersionID,
		Manifest:        out.Manifest,
		Permissions:     out.Permissions,
		IndexHTML:       m.IndexHTML(cfg.AppID, out.CachedVersionID),
		CreatedAt:       time.Now(),
	}

	m.mu.Lock()
	m.apps[app.ID] = app
	active := len(m.apps)
	m.mu.Unlock()

	m.metrics.IncMiniAppsCreated()
	m.metrics.SetMiniAppsActive(active)
	m.log.Info("Created mini-app",
		zap.String("id", app.ID),
		zap.String("app_id", app.AppID),
		zap.String("version_id", app.CachedVersionID),
		zap.String("state", string(state)))

	appCopy := *app
	return &appCopy, nil
}

// Get retrieves a created mini-app by instance ID
func (m *Manager) Get(id string) (*types.MiniApp, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.apps[id]
	if !ok {
		return nil, false
	}

	appCopy := *app
	return &appCopy, true
}

// List returns created mini-apps, optionally filtered by state, oldest first
func (m *Manager) List(state *types.State) []*types.MiniApp {
	m.mu.RLock()
	apps := make([]*types.MiniApp, 0, len(m.apps))
	for _, app := range m.apps {
		if state == nil || app.State == *state {
			appCopy := *app
			apps = append(apps, &appCopy)
		}
	}
	m.mu.RUnlock()

	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	return apps
}

// Close removes a created mini-app
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	_, ok := m.apps[id]
	delete(m.apps, id)
	active := len(m.apps)
	m.mu.Unlock()

	if ok {
		m.metrics.SetMiniAppsActive(active)
	}
	return ok
}

// Stats returns manager statistics
func (m *Manager) Stats() types.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.Stats{TotalMiniApps: len(m.apps)}
	for _, app := range m.apps {
		if app.State == types.StateDegraded {
			stats.DegradedMiniApps++
		}
	}
	return stats
}

// IndexHTML returns the bundle entry point of a mini-app version
func (m *Manager) IndexHTML(appID, versionID string) string {
	return paths.AppPath(m.bundleRoot, appID).IndexHTML(versionID)
}

// GetDownloadedManifest returns the cached manifest without verifying it.
// A mini-app that was never downloaded yields nil.
func (m *Manager) GetDownloadedManifest(ctx context.Context, appID string) (*types.CachedManifest, error) {
	if err := validateIDs(appID, ""); err != nil {
		return nil, err
	}
	return m.cache.Read(ctx, appID)
}

// GetCustomPermissions returns the stored grants of appID
func (m *Manager) GetCustomPermissions(ctx context.Context, appID string) (types.PermissionSet, error) {
	if err := validateIDs(appID, ""); err != nil {
		return nil, err
	}
	return m.perms.Read(ctx, appID)
}

// SetCustomPermissions merges set into the stored grants and prunes the
// result to the kinds of the cached manifest. Records for kinds the manifest
// does not request are dropped.
func (m *Manager) SetCustomPermissions(ctx context.Context, appID string, set types.PermissionSet) (types.PermissionSet, error) {
	cmds := make([]permission.Command, 0, len(set))
	for _, r := range set {
		cmds = append(cmds, permission.Command{Kind: r.Kind, Grant: r.Grant})
	}
	return m.ApplyCommands(ctx, appID, cmds...)
}

// ApplyCommands records user decisions for a downloaded mini-app
func (m *Manager) ApplyCommands(ctx context.Context, appID string, cmds ...permission.Command) (types.PermissionSet, error) {
	if err := validateIDs(appID, ""); err != nil {
		return nil, err
	}

	var result types.PermissionSet
	err := m.engine.Locked(ctx, appID, func(ctx context.Context) error {
		cached, err := m.cache.Read(ctx, appID)
		if err != nil {
			return err
		}
		if cached == nil {
			return &types.NotFoundError{AppID: appID}
		}

		if err := m.perms.Apply(ctx, appID, cmds...); err != nil {
			return err
		}
		if err := m.perms.PruneToKinds(ctx, appID, cached.Manifest.AllKinds()); err != nil {
			return err
		}
		result, err = m.perms.Read(ctx, appID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Debug("Updated custom permissions", zap.String("app_id", appID), zap.Int("commands", len(cmds)))
	return result, nil
}

// ListDownloadedWithCustomPermissions returns every cached mini-app with its
// stored grants, ordered by app id. Manifests that no longer decode are
// skipped.
func (m *Manager) ListDownloadedWithCustomPermissions(ctx context.Context) ([]types.DownloadedMiniApp, error) {
	ids, err := m.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	out := make([]types.DownloadedMiniApp, 0, len(ids))
	for _, appID := range ids {
		cached, err := m.cache.Read(ctx, appID)
		if manifest.IsCorrupt(err) {
			// The next verification downloads it again
			m.log.Warn("Skipping corrupt cached manifest", zap.String("app_id", appID), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		if cached == nil {
			continue
		}
		set, err := m.perms.Read(ctx, appID)
		if err != nil {
			return nil, err
		}
		out = append(out, types.DownloadedMiniApp{
			AppID:       appID,
			VersionID:   cached.VersionID,
			Permissions: set,
		})
	}
	return out, nil
}

// validateIDs checks ids used as store keys and bundle paths. An empty
// versionID is skipped.
func validateIDs(appID, versionID string) error {
	if err := utils.ValidateID(appID, "app id"); err != nil {
		return types.InvalidArgument("%s", err.Error())
	}
	if versionID == "" {
		return nil
	}
	if err := utils.ValidateID(versionID, "version id"); err != nil {
		return types.InvalidArgument("%s", err.Error())
	}
	return nil
}
