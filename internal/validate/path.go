// Package validate provides entry name sanitization and path containment checks
// used while materializing archive entries onto a filesystem.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sanitize converts an archive entry name into a clean, slash-separated path
// relative to the extraction root.
//
// Backslashes are treated as separators, and empty and "." segments are dropped.
// Names that are empty, absolute, carry a drive letter or UNC prefix, contain a
// ".." segment, or contain NUL or control characters are rejected. A name that
// refers to the root itself (for example "./") sanitizes to ".". Names are
// never percent-decoded, so "%2f" is an ordinary character sequence.
func Sanitize(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty path")
	}

	if err := detectProblematicCharacters(name); err != nil {
		return "", err
	}

	slashed := strings.ReplaceAll(name, "\\", "/")
	if isAbsolutePath(slashed) {
		return "", fmt.Errorf("absolute path not allowed: %s", name)
	}

	parts := strings.Split(slashed, "/")
	clean := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("path traversal detected: %s", name)
		}
		clean = append(clean, part)
	}

	if len(clean) == 0 {
		return ".", nil
	}
	return strings.Join(clean, "/"), nil
}

// IsDirName reports whether an entry name denotes a directory.
func IsDirName(name string) bool {
	return strings.HasSuffix(name, "/") || strings.HasSuffix(name, "\\")
}

// StripPrefix removes prefix from a sanitized name on a segment boundary.
// It reports false when the name is outside the prefix or is the prefix itself.
func StripPrefix(name, prefix string) (string, bool) {
	prefix = strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/")
	if prefix == "" {
		return name, true
	}
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return "", false
	}
	rest, ok = strings.CutPrefix(rest, "/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// Join resolves a sanitized relative name against root and verifies that the
// result stays inside root.
func Join(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))
	if !Contains(root, target) {
		return "", fmt.Errorf("path escapes target directory: %s", rel)
	}
	return target, nil
}

// Contains reports whether target is root or one of its descendants. Both
// paths are compared in cleaned form on a path-segment boundary, so "/out"
// does not contain "/outside".
func Contains(root, target string) bool {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(target, prefix)
}

// ResolveExisting resolves symlinks in the longest existing ancestor of p and
// re-appends the part that does not exist yet. It is used to detect entries
// that would be written through a symlink pointing outside the root.
func ResolveExisting(p string) (string, error) {
	p = filepath.Clean(p)
	var missing []string
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}

	resolved, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, missing[i])
	}
	return resolved, nil
}

// detectProblematicCharacters rejects NUL bytes and ASCII control characters.
func detectProblematicCharacters(path string) error {
	for _, r := range path {
		if r == 0 {
			return fmt.Errorf("NUL byte detected in path: %q", path)
		}
		if r < 32 || r == 127 {
			return fmt.Errorf("control character detected in path: %q (U+%04X)", path, r)
		}
	}
	return nil
}

// isAbsolutePath checks for rooted paths and Windows drive letters. UNC paths
// arrive here with their backslashes already converted and are rooted.
func isAbsolutePath(path string) bool {
	if strings.HasPrefix(path, "/") || filepath.IsAbs(path) {
		return true
	}
	if len(path) >= 2 && path[1] == ':' {
		drive := path[0]
		if (drive >= 'A' && drive <= 'Z') || (drive >= 'a' && drive <= 'z') {
			return true
		}
	}
	return false
}
