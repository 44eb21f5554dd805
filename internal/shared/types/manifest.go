package types

// PermissionKind identifies a custom permission a mini-app can request
type PermissionKind string

// Known custom permission kinds. Manifests may carry kinds outside this list;
// they are compared and stored by name like any other.
const (
	KindUserName     PermissionKind = "miniapp.user.USER_NAME"
	KindProfilePhoto PermissionKind = "miniapp.user.PROFILE_PHOTO"
	KindContactList  PermissionKind = "miniapp.user.CONTACT_LIST"
	KindAccessToken  PermissionKind = "miniapp.user.ACCESS_TOKEN"
	KindLocation     PermissionKind = "miniapp.device.LOCATION"
	KindSendMessage  PermissionKind = "miniapp.user.SEND_MESSAGE"
	KindPoints       PermissionKind = "miniapp.user.POINTS"
	KindFileDownload PermissionKind = "miniapp.device.FILE_DOWNLOAD"
)

// String returns the wire name of the kind
func (k PermissionKind) String() string { return string(k) }

// Permission is a requested permission with its human readable reason
type Permission struct {
	Kind        PermissionKind `json:"name"`
	Description string         `json:"reason"`
}

// AccessTokenScope lists the scopes a mini-app wants for one audience
type AccessTokenScope struct {
	Audience string   `json:"audience"`
	Scopes   []string `json:"scopes"`
}

// Manifest describes the permissions and metadata of one mini-app version
type Manifest struct {
	RequiredPermissions []Permission       `json:"reqPermissions"`
	OptionalPermissions []Permission       `json:"optPermissions"`
	CustomMetadata      map[string]string  `json:"customMetaData"`
	AccessTokenScopes   []AccessTokenScope `json:"accessTokenPermissions,omitempty"`
}

// CachedManifest is the manifest stored for a mini-app together with the
// version it was fetched for
type CachedManifest struct {
	VersionID string   `json:"versionId"`
	Manifest  Manifest `json:"miniAppManifest"`
}

// RequiredKinds returns the required kinds in manifest order without duplicates
func (m Manifest) RequiredKinds() []PermissionKind {
	return uniqueKinds(m.RequiredPermissions)
}

// OptionalKinds returns the optional kinds in manifest order without duplicates
func (m Manifest) OptionalKinds() []PermissionKind {
	return uniqueKinds(m.OptionalPermissions)
}

// AllKinds returns required then optional kinds, each kind once
func (m Manifest) AllKinds() []PermissionKind {
	all := make([]Permission, 0, len(m.RequiredPermissions)+len(m.OptionalPermissions))
	all = append(all, m.RequiredPermissions...)
	all = append(all, m.OptionalPermissions...)
	return uniqueKinds(all)
}

// Equal reports whether two manifests declare the same permission kinds and
// the same custom metadata. Descriptions and ordering are ignored, as are
// access token scopes.
func (m Manifest) Equal(other Manifest) bool {
	if !sameKinds(m.RequiredPermissions, other.RequiredPermissions) {
		return false
	}
	if !sameKinds(m.OptionalPermissions, other.OptionalPermissions) {
		return false
	}
	return sameMetadata(m.CustomMetadata, other.CustomMetadata)
}

// ManifestsEqual compares two possibly absent manifests. An absent manifest
// is never equal to anything, including another absent one.
func ManifestsEqual(a, b *Manifest) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func uniqueKinds(perms []Permission) []PermissionKind {
	seen := make(map[PermissionKind]struct{}, len(perms))
	kinds := make([]PermissionKind, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.Kind]; ok {
			continue
		}
		seen[p.Kind] = struct{}{}
		kinds = append(kinds, p.Kind)
	}
	return kinds
}

// sameKinds is true when no kind appears in exactly one of the two lists
func sameKinds(a, b []Permission) bool {
	left := make(map[PermissionKind]struct{}, len(a))
	for _, p := range a {
		left[p.Kind] = struct{}{}
	}
	right := make(map[PermissionKind]struct{}, len(b))
	for _, p := range b {
		right[p.Kind] = struct{}{}
	}
	if len(left) != len(right) {
		return false
	}
	for k := range left {
		if _, ok := right[k]; !ok {
			return false
		}
	}
	return true
}

// nil and empty metadata maps are treated alike
func sameMetadata(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
