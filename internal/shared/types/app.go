package types

import "time"

// State represents the launch state of a created mini-app
type State string

const (
	StateLaunchable State = "launchable"
	StateDegraded   State = "degraded"
)

// MiniApp represents a created mini-app instance
type MiniApp struct {
	ID          string `json:"id"`
	AppID       string `json:"app_id"`
	VersionID   string `json:"version_id"`
	RunID       string `json:"run_id"`
	State       State  `json:"state"`
	QueryParams string `json:"query_params,omitempty"`

	// CachedVersionID is the version whose bundle is launched. Degraded
	// mini-apps run the last verified version.
	CachedVersionID string        `json:"cached_version_id"`
	Manifest        Manifest      `json:"manifest"`
	Permissions     PermissionSet `json:"permissions"`
	IndexHTML       string        `json:"index_html"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Stats contains mini-app manager statistics
type Stats struct {
	TotalMiniApps    int `json:"total_miniapps"`
	DegradedMiniApps int `json:"degraded_miniapps"`
}

// DownloadedMiniApp is a cached mini-app with its custom permissions
type DownloadedMiniApp struct {
	AppID       string        `json:"app_id"`
	VersionID   string        `json:"version_id"`
	Permissions PermissionSet `json:"permissions"`
}
