// Package miniapp is the caller-facing facade over manifest reconciliation.
//
// Create runs a full verification before an instance is registered, so a
// mini-app whose required permissions are not granted never appears in the
// manager. Permission edits take the same per-app lock as reconciliation and
// are pruned to the kinds of the cached manifest.
//
// Example Usage:
//
//	mgr := miniapp.NewManager(engine, cache, perms, dataDir).WithMetrics(metrics)
//	app, err := mgr.Create(ctx, miniapp.Config{AppID: "app-1", VersionID: "v2"})
//	set, err := mgr.ApplyCommands(ctx, "app-1", permission.Grant(types.KindLocation))
package miniapp
