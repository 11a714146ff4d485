package imageprocessor

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"reportdedup/logging"
	"reportdedup/types"
)

// DecoderRegistry maps a detected format to an ordered chain of decoders.
// The first decoder that succeeds wins.
type DecoderRegistry struct {
	decoders map[FormatType][]Decoder
	mutex    sync.RWMutex
}

// NewDecoderRegistry creates a registry with OpenCV first and the Go codecs as fallback
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{decoders: make(map[FormatType][]Decoder)}

	opencv := OpenCVDecoder{}
	goimg := GoImageDecoder{}

	r.Register(FormatJPEG, opencv, goimg)
	r.Register(FormatPNG, opencv, goimg)
	r.Register(FormatBMP, opencv, goimg)
	r.Register(FormatTIFF, opencv, goimg)
	r.Register(FormatWEBP, opencv, goimg)
	// imdecode has no GIF support
	r.Register(FormatGIF, goimg)

	return r
}

// Register replaces the decoder chain for a format
func (r *DecoderRegistry) Register(format FormatType, chain ...Decoder) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.decoders[format] = chain
}

// Decode sniffs the format of data and runs its decoder chain
func (r *DecoderRegistry) Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), &types.ImageDecodeError{Err: errors.New("empty image data")}
	}

	format := DetectFormat(data)

	r.mutex.RLock()
	chain := r.decoders[format]
	r.mutex.RUnlock()

	if len(chain) == 0 {
		return gocv.NewMat(), &types.ImageDecodeError{Err: errors.Errorf("unsupported image format %s", format)}
	}

	var lastErr error
	for _, d := range chain {
		mat, err := d.Decode(data)
		if err == nil {
			return mat, nil
		}
		logging.DebugLog("%s decoder failed for %s data: %v", d.Name(), format, err)
		lastErr = err
	}
	return gocv.NewMat(), &types.ImageDecodeError{Err: lastErr}
}
