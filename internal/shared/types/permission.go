package types

import "fmt"

// GrantState is the user's decision for a custom permission
type GrantState string

const (
	GrantAllowed   GrantState = "ALLOWED"
	GrantDenied    GrantState = "DENIED"
	GrantNotYetSet GrantState = "NOT_YET_SET"
)

// Valid reports whether the state is one of the known grant states
func (g GrantState) Valid() bool {
	switch g {
	case GrantAllowed, GrantDenied, GrantNotYetSet:
		return true
	default:
		return false
	}
}

// ParseGrantState converts a wire value into a GrantState
func ParseGrantState(s string) (GrantState, error) {
	g := GrantState(s)
	if !g.Valid() {
		return "", fmt.Errorf("unknown grant state %q", s)
	}
	return g, nil
}

// PermissionRecord is the stored grant for one permission kind
type PermissionRecord struct {
	Kind  PermissionKind `json:"kind"`
	Grant GrantState     `json:"grant"`
}

// PermissionSet is an ordered list of records, unique by kind
type PermissionSet []PermissionRecord

// Get returns the record for kind
func (s PermissionSet) Get(kind PermissionKind) (PermissionRecord, bool) {
	for _, r := range s {
		if r.Kind == kind {
			return r, true
		}
	}
	return PermissionRecord{}, false
}

// Normalize drops duplicate kinds (first occurrence wins) and invalid grant
// states, which are reset to NOT_YET_SET
func (s PermissionSet) Normalize() PermissionSet {
	seen := make(map[PermissionKind]struct{}, len(s))
	out := make(PermissionSet, 0, len(s))
	for _, r := range s {
		if _, ok := seen[r.Kind]; ok || r.Kind == "" {
			continue
		}
		seen[r.Kind] = struct{}{}
		if !r.Grant.Valid() {
			r.Grant = GrantNotYetSet
		}
		out = append(out, r)
	}
	return out
}

// Retain keeps only records whose kind is in kinds, preserving order and
// grant state
func (s PermissionSet) Retain(kinds []PermissionKind) PermissionSet {
	allowed := make(map[PermissionKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	out := make(PermissionSet, 0, len(s))
	for _, r := range s {
		if _, ok := allowed[r.Kind]; ok {
			out = append(out, r)
		}
	}
	return out
}

// WithKinds appends a NOT_YET_SET record for every kind not yet present
func (s PermissionSet) WithKinds(kinds []PermissionKind) PermissionSet {
	out := make(PermissionSet, len(s), len(s)+len(kinds))
	copy(out, s)
	for _, k := range kinds {
		if _, ok := out.Get(k); !ok {
			out = append(out, PermissionRecord{Kind: k, Grant: GrantNotYetSet})
		}
	}
	return out
}

// Merge overlays the grants in update onto s. Kinds missing from s are appended.
func (s PermissionSet) Merge(update PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s), len(s)+len(update))
	copy(out, s)
	for _, u := range update.Normalize() {
		found := false
		for i := range out {
			if out[i].Kind == u.Kind {
				out[i].Grant = u.Grant
				found = true
				break
			}
		}
		if !found {
			out = append(out, u)
		}
	}
	return out
}

// MissingGrants returns the kinds in required that are not ALLOWED
func (s PermissionSet) MissingGrants(required []PermissionKind) []PermissionKind {
	var missing []PermissionKind
	for _, k := range required {
		if r, ok := s.Get(k); !ok || r.Grant != GrantAllowed {
			missing = append(missing, k)
		}
	}
	return missing
}
