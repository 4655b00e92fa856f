// Package scanerr classifies the failures a scan can hit. Almost all of them
// are local to a single path and are recorded on the affected record; only
// resource exhaustion aborts a scan.
package scanerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindPermissionDenied
	KindPathVanished
	KindTransientIO
	KindUnreadableForHash
	KindSymlinkCycle
	KindCacheCorrupt
	KindCancelled
	KindResourceExhausted
	KindOther
)

var kindNames = [...]string{
	KindNone:              "none",
	KindPermissionDenied:  "permission_denied",
	KindPathVanished:      "path_vanished",
	KindTransientIO:       "transient_io",
	KindUnreadableForHash: "unreadable_for_hash",
	KindSymlinkCycle:      "symlink_cycle",
	KindCacheCorrupt:      "cache_corrupt",
	KindCancelled:         "cancelled",
	KindResourceExhausted: "resource_exhausted",
	KindOther:             "other",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Fatal reports whether an error of this kind must abort the scan.
func (k Kind) Fatal() bool {
	return k == KindResourceExhausted
}

// MarshalText lets kinds render by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var (
	ErrPermissionDenied  = &PathError{Kind: KindPermissionDenied}
	ErrPathVanished      = &PathError{Kind: KindPathVanished}
	ErrTransientIO       = &PathError{Kind: KindTransientIO}
	ErrUnreadableForHash = &PathError{Kind: KindUnreadableForHash}
	ErrSymlinkCycle      = &PathError{Kind: KindSymlinkCycle}
	ErrCacheCorrupt      = &PathError{Kind: KindCacheCorrupt}
	ErrResourceExhausted = &PathError{Kind: KindResourceExhausted}
)

// PathError ties a classified failure to the path it happened on.
type PathError struct {
	Path string
	Kind Kind
	Err  error
}

func (e *PathError) Error() string {
	switch {
	case e.Path == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Path + ": " + e.Kind.String()
	case e.Path == "":
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Path + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Is matches any PathError of the same kind, so the package sentinels work
// with errors.Is regardless of path.
func (e *PathError) Is(target error) bool {
	if targetErr, ok := target.(*PathError); ok {
		return e.Kind == targetErr.Kind
	}
	return false
}

// Wrap classifies err and attaches path. A nil err returns nil.
func Wrap(path string, err error) error {
	if err == nil {
		return nil
	}
	return &PathError{Path: path, Kind: Classify(err), Err: err}
}

// WrapKind attaches an explicit kind, overriding classification.
func WrapKind(path string, kind Kind, err error) error {
	return &PathError{Path: path, Kind: kind, Err: err}
}

// Classify maps an error returned by the filesystem to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var pathErr *PathError
	if errors.As(err, &pathErr) {
		return pathErr.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EINTR, syscall.EAGAIN, syscall.EBUSY, syscall.ETIMEDOUT:
			return KindTransientIO
		case syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE:
			return KindResourceExhausted
		}
	}

	switch {
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return KindPathVanished
	}
	return KindOther
}
