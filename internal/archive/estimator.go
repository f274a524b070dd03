package archive

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
)

// DirSize walks root and sums the sizes of all regular files. Unreadable
// entries below the root are logged and skipped; the walk only fails when
// the root itself cannot be read or ctx expires. Symlinks are not followed.
func DirSize(ctx context.Context, root string) (int64, error) {
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if path == root {
				return err
			}
			log.Printf("Estimator: skipping unreadable entry %s: %v", path, err)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Printf("Estimator: skipping unreadable entry %s: %v", path, err)
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}
