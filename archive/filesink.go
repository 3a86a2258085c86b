package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// WriteFile commits bundle to path atomically: it is serialized to a
// sibling temp file, fsynced, then renamed over path. A crash at any
// point before the rename leaves path untouched; after the rename, the
// write is complete. There is no partially-visible intermediate state.
func WriteFile(path string, bundle *Bundle) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp archive file: %v", apperr.IoError, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = WriteTar(tmp, bundle); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: fsync of temp archive file: %v", apperr.IoError, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp archive file: %v", apperr.IoError, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming temp archive file into place: %v", apperr.IoError, err)
	}
	return nil
}

// ReadFile opens and parses the archive at path.
func ReadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening archive file: %v", apperr.IoError, err)
	}
	defer f.Close()
	return ReadTar(f)
}
