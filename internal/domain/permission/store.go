package permission

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
)

// Command is a single user decision for one permission kind
type Command struct {
	Kind  types.PermissionKind
	Grant types.GrantState
}

// Grant returns a command allowing kind
func Grant(kind types.PermissionKind) Command {
	return Command{Kind: kind, Grant: types.GrantAllowed}
}

// Deny returns a command denying kind
func Deny(kind types.PermissionKind) Command {
	return Command{Kind: kind, Grant: types.GrantDenied}
}

// record is the persisted form
type record struct {
	AppID       string              `json:"appId"`
	Permissions types.PermissionSet `json:"permissions"`
}

// Store persists custom permission grants per mini-app
type Store struct {
	kv storage.KV
}

// NewStore creates a permission store on top of kv
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Read returns the stored set; an app that was never written yields an
// empty set. Only storage medium failures are reported.
func (s *Store) Read(ctx context.Context, appID string) (types.PermissionSet, error) {
	key := paths.Key(paths.Permissions, appID)

	var rec record
	found, err := storage.GetRecord(ctx, s.kv, key, &rec)
	if err != nil {
		return nil, &types.PersistenceError{Op: "read permissions", Key: key, Err: err}
	}
	if !found {
		return types.PermissionSet{}, nil
	}
	return rec.Permissions.Normalize(), nil
}

// Write replaces the stored set for appID
func (s *Store) Write(ctx context.Context, appID string, set types.PermissionSet) error {
	key := paths.Key(paths.Permissions, appID)
	rec := record{AppID: appID, Permissions: set.Normalize()}
	if err := storage.PutRecord(ctx, s.kv, key, rec); err != nil {
		return &types.PersistenceError{Op: "write permissions", Key: key, Err: err}
	}
	return nil
}

// PruneToKinds removes every record whose kind is not in kinds. Remaining
// records keep their grant state.
func (s *Store) PruneToKinds(ctx context.Context, appID string, kinds []types.PermissionKind) error {
	current, err := s.Read(ctx, appID)
	if err != nil {
		return err
	}
	pruned := current.Retain(kinds)
	if len(pruned) == len(current) {
		return nil
	}
	return s.Write(ctx, appID, pruned)
}

// HasAllRequiredGranted reports whether every required kind is ALLOWED
func (s *Store) HasAllRequiredGranted(ctx context.Context, appID string, required []types.PermissionKind) (bool, error) {
	current, err := s.Read(ctx, appID)
	if err != nil {
		return false, err
	}
	return len(current.MissingGrants(required)) == 0, nil
}

// Apply records a user decision through Write. Commands for kinds the app
// never requested are added as new records; callers that must respect the
// manifest prune afterwards.
func (s *Store) Apply(ctx context.Context, appID string, cmds ...Command) error {
	update := make(types.PermissionSet, 0, len(cmds))
	for _, c := range cmds {
		if c.Kind == "" {
			return types.InvalidArgument("permission kind is required")
		}
		if !c.Grant.Valid() {
			return types.InvalidArgument("invalid grant state %q for %s", c.Grant, c.Kind)
		}
		update = append(update, types.PermissionRecord{Kind: c.Kind, Grant: c.Grant})
	}

	current, err := s.Read(ctx, appID)
	if err != nil {
		return err
	}
	if err := s.Write(ctx, appID, current.Merge(update)); err != nil {
		return fmt.Errorf("apply permission commands: %w", err)
	}
	return nil
}
