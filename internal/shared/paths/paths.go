// Package paths provides the on-disk layout shared by the stores and the
// bundle display layer.
//
// Layout under the storage root:
//
//	manifests/{app-id}.json     cached manifest (version id + manifest)
//	permissions/{app-id}.json   custom permission grants
//	digests/{app-id}.json       digest of the last verified manifest file
//	miniapps/{app-id}/{version-id}/index.html  extracted bundle entry point
package paths

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Namespaces inside the storage root
const (
	Manifests   = "manifests"
	Permissions = "permissions"
	Digests     = "digests"
	MiniApps    = "miniapps"
)

// RecordExt is the file extension of every stored record
const RecordExt = ".json"

// Key joins a namespace and an app id into a store key
func Key(namespace, appID string) string {
	return namespace + "/" + appID
}

// SplitKey is the inverse of Key
func SplitKey(key string) (namespace, appID string, ok bool) {
	i := strings.IndexByte(key, '/')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// App returns bundle paths for one mini-app
type App struct {
	Root string
	ID   string
}

// AppPath returns paths for a specific mini-app below root
func AppPath(root, appID string) App {
	return App{Root: root, ID: appID}
}

// VersionDir returns the directory a version's bundle is extracted to
func (a App) VersionDir(versionID string) string {
	return filepath.Join(a.Root, MiniApps, a.ID, versionID)
}

// IndexHTML returns the entry point of a version's bundle
func (a App) IndexHTML(versionID string) string {
	return filepath.Join(a.VersionDir(versionID), "index.html")
}

// ValidateAppID checks if an id is valid for path and key construction
func ValidateAppID(appID string) error {
	if appID == "" {
		return fmt.Errorf("app ID cannot be empty")
	}
	if filepath.IsAbs(appID) {
		return fmt.Errorf("app ID cannot be an absolute path")
	}
	if strings.ContainsAny(appID, `/\`) || appID == "." || appID == ".." {
		return fmt.Errorf("app ID contains invalid path components")
	}
	return nil
}
