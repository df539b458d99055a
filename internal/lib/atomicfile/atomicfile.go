// Package atomicfile записывает файлы через временный файл и rename,
// так что читатель видит либо старое, либо новое содержимое целиком.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write атомарно заменяет содержимое path на data с правами perm.
func Write(path string, data []byte, perm os.FileMode) error {
	const op = "atomicfile.Write"

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	committed = true
	return nil
}
