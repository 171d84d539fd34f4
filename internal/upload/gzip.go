package upload

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// CompressFile writes path+".gz" and returns its path. An existing
// compressed copy is replaced.
func CompressFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	dst := path + GzipSuffix
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return dst, nil
}
