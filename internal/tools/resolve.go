package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// resolvePath resolves a tool-supplied path against the workspace root.
// With restrict=true the resolved path must stay inside the workspace:
// traversal, absolute escapes, and symlinks pointing outside are all
// rejected. The target file itself may not exist yet (Write creates it),
// but its deepest existing ancestor must resolve inside the workspace.
func resolvePath(path, workspace string, restrict bool) (string, error) {
	if !restrict {
		if filepath.IsAbs(path) {
			return filepath.Clean(path), nil
		}
		return filepath.Join(workspace, path), nil
	}

	wsReal, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return "", fmt.Errorf("workspace does not resolve: %w", err)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspace, candidate)
	}
	candidate = filepath.Clean(candidate)

	// Resolve symlinks on the deepest existing ancestor, then re-attach
	// the non-existent tail. A symlink anywhere on the existing part that
	// escapes the workspace is caught here.
	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", err
	}

	if !isPathInside(resolved, wsReal) && !isPathInside(resolved, workspace) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of
// path and joins the remaining components back on. Broken symlinks are
// followed manually so their targets still get boundary-checked.
func resolveExisting(path string) (string, error) {
	var tail []string
	current := path
	for hops := 0; hops < 40; hops++ {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(tail) == 0 {
				return real, nil
			}
			// Reverse the collected tail
			for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
				tail[i], tail[j] = tail[j], tail[i]
			}
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve %s: %w", path, err)
		}

		// EvalSymlinks reports ENOENT both for a missing component and
		// for a symlink whose target is missing. Distinguish with Lstat.
		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			target, rerr := os.Readlink(current)
			if rerr != nil {
				return "", fmt.Errorf("resolve %s: %w", path, rerr)
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(current), target)
			}
			current = filepath.Clean(target)
			continue
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("resolve %s: no existing ancestor", path)
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
	return "", fmt.Errorf("resolve %s: too many symlink hops", path)
}

// isPathInside reports whether child is parent or lives under it.
func isPathInside(child, parent string) bool {
	child = filepath.Clean(child)
	parent = filepath.Clean(parent)
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// checkHardlink rejects regular files with more than one link. A hardlink
// inside the workspace can alias a file outside it, bypassing the path
// boundary. Directories naturally carry nlink > 1 and are exempt, as are
// paths that do not exist yet.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return nil
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Nlink > 1 {
		return fmt.Errorf("refusing hardlinked file: %s (nlink=%d)", path, st.Nlink)
	}
	return nil
}

// checkDeniedPath rejects resolved paths under any of the denied
// workspace-relative directory names.
func checkDeniedPath(resolved, workspace string, denied []string) error {
	roots := []string{workspace}
	if real, err := filepath.EvalSymlinks(workspace); err == nil && real != workspace {
		roots = append(roots, real)
	}
	for _, ws := range roots {
		for _, name := range denied {
			if isPathInside(resolved, filepath.Join(ws, name)) {
				return fmt.Errorf("access to %s is denied", name)
			}
		}
	}
	return nil
}
