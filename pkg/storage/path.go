package storage

import (
	"fmt"
	"path"
	"strings"
)

// NormalizeRoot returns the canonical form of a configured root path: a
// cleaned absolute path with exactly one separator at each end. Empty and
// "." roots become "/".
func NormalizeRoot(root string) string {
	cleaned := path.Clean("/" + strings.Trim(root, "/"))
	if cleaned == "/" {
		return "/"
	}
	return cleaned + "/"
}

// ResolveName joins name under a normalized root. Names are flat: they
// must be relative, contain no separators and stay inside the root.
func ResolveName(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	if path.IsAbs(name) || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q is not a relative name", ErrInvalidName, name)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q escapes the storage root", ErrInvalidName, name)
	}
	// List only reports direct children of the root
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}

	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the storage root", ErrInvalidName, name)
	}

	full := path.Join(root, cleaned)
	if !strings.HasPrefix(full, root) {
		return "", fmt.Errorf("%w: %q escapes the storage root", ErrInvalidName, name)
	}
	return full, nil
}

// rootDir returns the root without its trailing separator, the form SFTP
// servers expect for directory operations.
func rootDir(root string) string {
	if root == "/" {
		return root
	}
	return strings.TrimSuffix(root, "/")
}
