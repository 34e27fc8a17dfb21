package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyToFile downloads the whole object into dir/name, creating dir if needed.
// A partial file is removed on failure.
func CopyToFile(ctx context.Context, store ObjectStore, objectURL, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	target := filepath.Join(dir, name)

	body, err := store.GetObjectRange(ctx, objectURL, 0, -1)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = body.Close()
	}()

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return "", err
	}
	return target, nil
}
