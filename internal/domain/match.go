package domain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// NormalizeProcessName lowercases a process name and strips its file
// extension ("Steam.EXE" -> "steam"). Rules and observed processes are
// compared in this form.
func NormalizeProcessName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SameProcessName reports whether two process names match after
// normalization.
func SameProcessName(a, b string) bool {
	return NormalizeProcessName(a) == NormalizeProcessName(b)
}

// NormalizePath cleans a path and lowercases it for case-insensitive
// comparison of resolved executable paths.
func NormalizePath(p string) string {
	return strings.ToLower(filepath.Clean(p))
}

// SamePath reports whether two executable paths refer to the same file,
// comparing cleaned, case-folded forms.
func SamePath(a, b string) bool {
	return NormalizePath(a) == NormalizePath(b)
}

// IsAccessDenied reports whether an OS error means we lack permission to
// act on the target process (protected or elevated). Such failures are
// logged and skipped, never retried.
func IsAccessDenied(err error) bool {
	return errors.Is(err, os.ErrPermission) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EACCES)
}
