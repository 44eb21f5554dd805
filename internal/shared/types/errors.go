package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks. Each typed error below matches its sentinel.
var (
	ErrNetwork                   = errors.New("network unavailable")
	ErrNotFound                  = errors.New("mini app not found")
	ErrNoPublishedVersion        = errors.New("mini app has no published version")
	ErrRequiredPermissionsDenied = errors.New("required permissions not granted")
	ErrPersistence               = errors.New("persistence failure")
	ErrInvalidArgument           = errors.New("invalid argument")
	ErrFetch                     = errors.New("manifest fetch failed")
)

// NetworkError reports a connectivity failure while talking to the manifest source
type NetworkError struct {
	AppID     string
	VersionID string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch manifest %s@%s: network unavailable: %v", e.AppID, e.VersionID, e.Err)
}

func (e *NetworkError) Unwrap() error        { return e.Err }
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// NotFoundError reports that the mini-app does not exist on the server
type NotFoundError struct {
	AppID     string
	VersionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("mini app %s@%s not found", e.AppID, e.VersionID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NoPublishedVersionError reports that the mini-app exists but has nothing published
type NoPublishedVersionError struct {
	AppID string
}

func (e *NoPublishedVersionError) Error() string {
	return fmt.Sprintf("mini app %s has no published version", e.AppID)
}

func (e *NoPublishedVersionError) Is(target error) bool { return target == ErrNoPublishedVersion }

// RequiredPermissionsNotGrantedError is returned when a required custom
// permission is not ALLOWED after reconciliation
type RequiredPermissionsNotGrantedError struct {
	AppID     string
	VersionID string
	Missing   []PermissionKind
}

func (e *RequiredPermissionsNotGrantedError) Error() string {
	names := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		names[i] = string(k)
	}
	return fmt.Sprintf("mini app %s@%s: required permissions not granted: [%s]",
		e.AppID, e.VersionID, strings.Join(names, ", "))
}

func (e *RequiredPermissionsNotGrantedError) Is(target error) bool {
	return target == ErrRequiredPermissionsDenied
}

// PersistenceError wraps a storage medium failure
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// FetchError reports an unexpected response from the manifest source
type FetchError struct {
	AppID      string
	VersionID  string
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch manifest %s@%s: status %d: %s", e.AppID, e.VersionID, e.StatusCode, e.Message)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// InvalidArgument builds an error matching ErrInvalidArgument
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
