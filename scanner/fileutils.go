package scanner

import (
	"path/filepath"
	"strings"
)

// IsImageFile checks if a file extension belongs to an image the extractor can decode
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return true
	case ".tif", ".tiff":
		return true
	default:
		return false
	}
}

// IsTiffFormat checks if a file is in TIF format
func IsTiffFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".tif" || ext == ".tiff"
}
