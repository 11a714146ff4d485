package imageprocessor

import (
	"reportdedup/fetch"
)

// FormatType is an image container format detected from magic bytes
type FormatType int

const (
	FormatUnknown FormatType = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatBMP
	FormatTIFF
	FormatWEBP
)

var formatNames = map[FormatType]string{
	FormatUnknown: "unknown",
	FormatJPEG:    "jpeg",
	FormatPNG:     "png",
	FormatGIF:     "gif",
	FormatBMP:     "bmp",
	FormatTIFF:    "tiff",
	FormatWEBP:    "webp",
}

var contentTypeFormats = map[string]FormatType{
	"image/jpeg": FormatJPEG,
	"image/png":  FormatPNG,
	"image/gif":  FormatGIF,
	"image/bmp":  FormatBMP,
	"image/tiff": FormatTIFF,
	"image/webp": FormatWEBP,
}

func (f FormatType) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// DetectFormat identifies the format from the leading bytes of data.
// File names and declared content types are never consulted.
func DetectFormat(data []byte) FormatType {
	return contentTypeFormats[fetch.SniffContentType(data)]
}

// GetFormatExtension returns the canonical file extension for a format
func GetFormatExtension(format FormatType) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatGIF:
		return ".gif"
	case FormatTIFF:
		return ".tiff"
	case FormatBMP:
		return ".bmp"
	case FormatWEBP:
		return ".webp"
	default:
		return ""
	}
}
