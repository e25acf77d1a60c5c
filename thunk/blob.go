package thunk

import (
	"crypto/sha512"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/polydawn/refmt/misc"
)

// digest hashes everything read from r, SHA-384 then base58 --
// the same recipe Thunk.Hash uses, so blob hashes and thunk hashes are
// computed identically even though they cover different content.
func digest(r io.Reader) (string, int64, error) {
	hasher := sha512.New384()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", 0, err
	}
	return misc.Base58Encode(hasher.Sum(nil)), n, nil
}

// PutFile ingests the file at path into the store, returning its Hash.
// executable controls whether the resulting Hash is tagged Value or
// Executable.
func (s Store) PutFile(path string, executable bool) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingesting blob %s: %w", path, err)
	}
	defer f.Close()

	digestHex, size, err := digest(f)
	if err != nil {
		return "", fmt.Errorf("hashing blob %s: %w", path, err)
	}
	t := TypeValue
	if executable {
		t = TypeExecutable
	}
	h := New(t, digestHex, size)

	if err := os.MkdirAll(filepath.Dir(s.BlobPath(h)), 0755); err != nil {
		return "", fmt.Errorf("preparing blob dir: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding blob %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.BlobPath(h)), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("staging blob %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := io.Copy(tmp, f); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copying blob %s: %w", path, err)
	}
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return "", fmt.Errorf("setting mode on blob %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing staged blob %s: %w", path, err)
	}
	if err := os.Rename(tmpName, s.BlobPath(h)); err != nil {
		return "", fmt.Errorf("committing blob %s: %w", path, err)
	}
	return h, nil
}
