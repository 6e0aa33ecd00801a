package fsio

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// HashTree computes the deterministic content hash of a directory tree.
//
// The hash covers every regular file's relative path and content, walked
// in sorted path order. Fields are length-prefixed so path/content
// boundaries are unambiguous. File metadata (times, ownership, modes) is
// excluded on purpose: re-hashing a byte-identical tree must reproduce
// the stored hash even after the permission lock.
//
// Names listed in exclude are skipped when found at the tree root; the
// identity sentinel is excluded this way so the stored hash stays
// reproducible.
func HashTree(root string, exclude ...string) (string, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if _, skip := excluded[rel]; skip {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	hasher := sha256.New()
	writeField := func(data []byte) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		hasher.Write(length[:])
		hasher.Write(data)
	}

	for _, rel := range files {
		writeField([]byte(filepath.ToSlash(rel)))

		f, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(f)
		DiscardClose(f)
		if err != nil {
			return "", err
		}
		writeField(content)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
