package builder

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// resolveContextPath joins a copy source onto the build context root,
// refusing paths that escape it.
func resolveContextPath(contextDir, src string) (string, error) {
	if filepath.IsAbs(src) {
		return "", fmt.Errorf("copy source %q must be relative to the build context", src)
	}
	resolved, err := securejoin.SecureJoin(contextDir, src)
	if err != nil {
		return "", fmt.Errorf("resolve copy source %q: %w", src, err)
	}
	return resolved, nil
}

// copyTree recursively copies a file or directory. Destination parents
// are created as needed. Symlinks are recreated, not followed.
func copyTree(src, dest string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	switch {
	case info.IsDir():
		return copyDir(src, dest)
	case info.Mode()&fs.ModeSymlink != 0:
		return copySymlink(src, dest)
	default:
		return copyFile(src, dest, info.Mode().Perm())
	}
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case entry.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copySymlink(src, dest string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	os.Remove(dest)
	return os.Symlink(target, dest)
}
