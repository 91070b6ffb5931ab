// Package upload persists complaint photos for the lifetime of one submission.
//
// The browser attaches files by path, so multipart uploads are written to the
// upload directory first. Every file gets a fresh UUID name; client-supplied
// names are never used as paths.
//
// Thread-safety:
//   - A Store is safe for concurrent use; it holds no per-request state
//   - Files of one request are written concurrently, bounded by maxParallel
package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxParallel = 3

// allowedExt lists the photo extensions kept on disk. Anything else is
// stored as .jpg, the portal's default.
var allowedExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".heic": true, ".webp": true,
}

// Store writes uploads under one directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates dir if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Batch is the set of files written for one request, in upload order.
type Batch struct {
	Paths []string
	store *Store
}

// SaveAll writes every file concurrently. Paths keep the order of files.
// If any write fails, the files already written are removed.
func (s *Store) SaveAll(ctx context.Context, files []*multipart.FileHeader) (*Batch, error) {
	paths := make([]string, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, fh := range files {
		g.Go(func() error {
			path, err := s.save(ctx, fh)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}

	batch := &Batch{Paths: paths, store: s}
	if err := g.Wait(); err != nil {
		batch.Remove()
		return nil, err
	}

	s.logger.Debug("uploads saved", zap.Int("count", len(paths)), zap.Strings("paths", paths))
	return batch, nil
}

func (s *Store) save(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer src.Close()

	path := filepath.Join(s.dir, uuid.NewString()+extension(fh.Filename))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if allowedExt[ext] {
		return ext
	}
	return ".jpg"
}

// Remove deletes the batch's files. Missing files are ignored. Safe on a
// nil batch.
func (b *Batch) Remove() {
	if b == nil {
		return
	}
	for _, p := range b.Paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			b.store.logger.Warn("⚠️  Failed to remove upload", zap.String("path", p), zap.Error(err))
		}
	}
}
