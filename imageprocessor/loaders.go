package imageprocessor

import (
	"bytes"
	"image"
	// Go decoders for formats OpenCV builds sometimes lack
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"
)

// Decoder turns encoded image bytes into a 3-channel BGR Mat.
// The caller owns the returned Mat and must Close it.
type Decoder interface {
	Decode(data []byte) (gocv.Mat, error)
	Name() string
}

// OpenCVDecoder decodes with cv::imdecode
type OpenCVDecoder struct{}

func (OpenCVDecoder) Name() string { return "opencv" }

func (OpenCVDecoder) Decode(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		mat.Close()
		return gocv.NewMat(), errors.Wrap(err, "imdecode")
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.New("imdecode returned an empty image")
	}
	return mat, nil
}

// GoImageDecoder decodes with the image package and the x/image codecs
type GoImageDecoder struct{}

func (GoImageDecoder) Name() string { return "go-image" }

func (GoImageDecoder) Decode(data []byte) (gocv.Mat, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "image.Decode")
	}
	return gocvMatFromGoImage(img)
}
