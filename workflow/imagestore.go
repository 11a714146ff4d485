package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"reportdedup/fetch"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
	"image/webp": ".webp",
}

// DirImageStore keeps uploaded photos in a directory served under BaseURL
type DirImageStore struct {
	Dir     string
	BaseURL string
}

// NewDirImageStore creates the directory if needed
func NewDirImageStore(dir, baseURL string) (*DirImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating image directory %s", dir)
	}
	return &DirImageStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Save writes data under a fresh name and returns its URL
func (s *DirImageStore) Save(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext, ok := imageExtensions[fetch.SniffContentType(data)]
	if !ok {
		ext = ".bin"
	}
	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing image %s", name)
	}
	return s.BaseURL + "/images/" + name, nil
}
