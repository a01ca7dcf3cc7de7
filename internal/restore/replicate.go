package restore

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Replicate replaces the contents of every target with the top-level entries
// of source, adds chain directory aliases and strips keystore directories.
func Replicate(source string, targets []string, aliases map[string][]string) error {
	entries, err := os.ReadDir(source)
	if err != nil {
		return fmt.Errorf("failed to read extracted snapshot: %w", err)
	}

	sorted := append([]string{}, targets...)
	sort.Strings(sorted)

	for _, target := range sorted {
		slog.Info("Restoring data directory", "path", target)

		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to clear %s: %w", target, err)
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", target, err)
		}

		for _, e := range entries {
			src := filepath.Join(source, e.Name())
			dst := filepath.Join(target, e.Name())
			if err := copyTree(src, dst); err != nil {
				return fmt.Errorf("failed to copy %s into %s: %w", e.Name(), target, err)
			}
			if e.Name() == "chains" && e.IsDir() {
				if err := copyAliases(src, dst, aliases); err != nil {
					return err
				}
			}
		}
	}

	for _, target := range sorted {
		if err := removeKeystores(target); err != nil {
			return err
		}
	}
	return nil
}

// copyAliases duplicates chains/<name> under each alias that the archive
// does not already carry.
func copyAliases(srcChains, dstChains string, aliases map[string][]string) error {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		src := filepath.Join(srcChains, name)
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			continue
		}
		for _, alias := range aliases[name] {
			if _, err := os.Lstat(filepath.Join(srcChains, alias)); err == nil {
				continue
			}
			slog.Info("Adding chain directory alias", "chain", name, "alias", alias)
			if err := copyTree(src, filepath.Join(dstChains, alias)); err != nil {
				return fmt.Errorf("failed to alias chains/%s as %s: %w", name, alias, err)
			}
		}
	}
	return nil
}

func removeKeystores(root string) error {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "keystore" {
			found = append(found, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s for keystores: %w", root, err)
	}

	for _, path := range found {
		slog.Info("Removing restored keystore", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove keystore %s: %w", path, err)
		}
	}
	return nil
}

// copyTree copies src to dst recreating symlinks as links.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			slog.Debug("Skipping special file", "path", path)
			return nil
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}

	return dstFile.Close()
}
