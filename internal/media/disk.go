package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"feedline.org/internal/feed"
	"feedline.org/internal/obs"
)

// ErrOutsideRoot is returned for references that resolve outside the media root.
var ErrOutsideRoot = errors.New("media: reference outside media root")

// DiskCleaner removes image files stored under Root.
type DiskCleaner struct {
	root string
}

var _ feed.Cleaner = (*DiskCleaner)(nil)

// NewDiskCleaner returns a cleaner rooted at dir.
func NewDiskCleaner(dir string) (*DiskCleaner, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &DiskCleaner{root: abs}, nil
}

// Clean removes the file named by ref. References may carry the root's
// directory name as prefix ("images/a.png"); a file that is already gone is
// not an error.
func (c *DiskCleaner) Clean(ctx context.Context, ref string) (err error) {
	defer func() { obs.ObserveCleanup("disk", err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: remove %s: %w", ref, err)
	}
	return nil
}

// Resolve maps ref to an absolute path inside the root.
func (c *DiskCleaner) Resolve(ref string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(strings.TrimSpace(ref))), "/")
	rel = strings.TrimPrefix(rel, filepath.Base(c.root)+"/")
	if rel == "" || rel == "." {
		return "", ErrOutsideRoot
	}
	target := filepath.Join(c.root, filepath.FromSlash(rel))
	if within, err := filepath.Rel(c.root, target); err != nil || strings.HasPrefix(within, "..") {
		return "", ErrOutsideRoot
	}
	return target, nil
}
