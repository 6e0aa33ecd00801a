package fsio

import (
	"os"
	"path/filepath"
)

// LockTree recursively strips write permission from every file and
// directory under root, root included. After locking, any write into the
// tree fails at the OS level; this is the enforced half of the output
// immutability contract, not a convention.
//
// Directories are chmodded after their contents so the walk itself never
// loses traversal rights mid-way.
func LockTree(root string) error {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if info.Mode().IsRegular() {
			return os.Chmod(path, info.Mode().Perm()&^0o222)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Deepest first.
	for i := len(dirs) - 1; i >= 0; i-- {
		info, err := os.Stat(dirs[i])
		if err != nil {
			return err
		}
		if err := os.Chmod(dirs[i], info.Mode().Perm()&^0o222); err != nil {
			return err
		}
	}
	return nil
}

// UnlockTree restores write permission for the owner on every entry
// under root. Operators use this to re-drive a chain from a locked tree;
// tests use it so temp directories can be cleaned up.
func UnlockTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chmod(path, info.Mode().Perm()|0o200)
	})
}
