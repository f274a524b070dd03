package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const copyChunkSize = 64 * 1024

// Builder writes zip archives of media directories. Level is the deflate
// compression level (0-9); downloads are one-shot so the default favors
// speed over ratio.
type Builder struct {
	Level int
}

// Build compresses srcDir into a zip at destPath. Entries are stored
// relative to srcDir (no wrapping root directory) and empty directories are
// preserved. totalBytes is the estimated input size used for progress;
// when it is <= 0 progress is indeterminate and onProgress is never called.
// onProgress receives values in [0,100], monotone, throttled to whole
// percentage points and at most a few calls per second.
//
// On any failure, including ctx cancellation, the partial destination file
// is removed before returning.
func (b *Builder) Build(ctx context.Context, srcDir, destPath string, totalBytes int64, onProgress func(float64)) (err error) {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	defer func() {
		if err != nil {
			out.Close()
			os.Remove(destPath)
		}
	}()

	zw := zip.NewWriter(out)
	level := b.Level
	if level < flate.NoCompression || level > flate.BestCompression {
		level = flate.BestSpeed
	}
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	var processed int64
	lastPercent := -1.0
	lastEmit := time.Time{}

	emit := func() {
		if onProgress == nil || totalBytes <= 0 {
			return
		}
		percent := float64(processed) / float64(totalBytes) * 100
		if percent > 100 {
			percent = 100
		}
		now := time.Now()
		if percent-lastPercent < 1 || now.Sub(lastEmit) < 250*time.Millisecond {
			return
		}
		lastPercent = percent
		lastEmit = now
		onProgress(percent)
	}

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			// Directory entries keep empty directories in the archive
			_, err := zw.Create(name + "/")
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		buf := make([]byte, copyChunkSize)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return werr
				}
				processed += int64(n)
				emit()
			}
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return rerr
			}
		}
	})
	if err != nil {
		zw.Close()
		return err
	}

	if err = zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	if onProgress != nil && totalBytes > 0 && lastPercent < 100 {
		onProgress(100)
	}
	return nil
}
