package types

import "fmt"

// ImageDecodeError means the bytes are not a decodable raster image
type ImageDecodeError struct {
	Source string
	Err    error
}

func (e *ImageDecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("cannot decode image: %v", e.Err)
	}
	return fmt.Sprintf("cannot decode image %s: %v", e.Source, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

// FetchError covers timeouts, network failures and non-2xx responses
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DimensionMismatchError signals embeddings from inconsistent backbones
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// BackboneLoadError is returned when the feature backbone cannot be loaded
type BackboneLoadError struct {
	ModelPath string
	Err       error
}

func (e *BackboneLoadError) Error() string {
	return fmt.Sprintf("failed to load backbone %s: %v", e.ModelPath, e.Err)
}

func (e *BackboneLoadError) Unwrap() error { return e.Err }
