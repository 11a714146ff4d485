package imageprocessor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportdedup/similarity"
	"reportdedup/types"
)

func solid(c color.Color, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	red := solid(color.RGBA{R: 255, A: 255}, 8, 8)

	var gifBuf bytes.Buffer
	require.NoError(t, gif.Encode(&gifBuf, red, nil))

	assert.Equal(t, FormatPNG, DetectFormat(encodePNG(t, red)))
	assert.Equal(t, FormatGIF, DetectFormat(gifBuf.Bytes()))
	assert.Equal(t, FormatTIFF, DetectFormat([]byte{'I', 'I', 42, 0, 8, 0, 0, 0}))
	assert.Equal(t, FormatUnknown, DetectFormat([]byte("<html></html>")))
	assert.Equal(t, "png", FormatPNG.String())
	assert.Equal(t, ".gif", GetFormatExtension(FormatGIF))
}

func TestDecodePNG(t *testing.T) {
	r := NewDecoderRegistry()
	mat, err := r.Decode(encodePNG(t, solid(color.RGBA{B: 255, A: 255}, 16, 12)))
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 12, mat.Rows())
	assert.Equal(t, 16, mat.Cols())
	assert.Equal(t, 3, mat.Channels())
	// BGR order
	assert.Equal(t, uint8(255), mat.GetUCharAt3(0, 0, 0))
	assert.Equal(t, uint8(0), mat.GetUCharAt3(0, 0, 2))
}

func TestDecodeGIFUsesGoDecoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, solid(color.RGBA{R: 255, A: 255}, 10, 10), nil))

	mat, err := NewDecoderRegistry().Decode(buf.Bytes())
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 10, mat.Rows())
	assert.Equal(t, 3, mat.Channels())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	r := NewDecoderRegistry()

	for name, data := range map[string][]byte{
		"empty":     nil,
		"html":      []byte("<html><body>404</body></html>"),
		"truncated": encodePNG(t, solid(color.White, 8, 8))[:20],
	} {
		t.Run(name, func(t *testing.T) {
			mat, err := r.Decode(data)
			mat.Close()

			var decodeErr *types.ImageDecodeError
			assert.True(t, errors.As(err, &decodeErr), "got %v", err)
		})
	}
}

func TestMissingModelIsCachedLoadError(t *testing.T) {
	cfg := DefaultBackboneConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	e := NewExtractor(cfg, nil)

	_, err := e.ExtractBytes(context.Background(), encodePNG(t, solid(color.White, 4, 4)))
	var loadErr *types.BackboneLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, cfg.ModelPath, loadErr.ModelPath)

	// the failure is remembered even after the file appears
	require.NoError(t, os.WriteFile(cfg.ModelPath, []byte("x"), 0o600))
	err2 := e.Warmup()
	assert.Same(t, err, err2)
}

func TestCheckDimension(t *testing.T) {
	classScores := similarity.NewEmbedding(make([]float32, 1000))

	cfg := DefaultBackboneConfig()
	err := checkDimension(cfg, classScores)
	var dimErr *types.DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 1000, dimErr.Got)
	assert.Equal(t, 1024, dimErr.Want)
	assert.Contains(t, err.Error(), "backbone.output_layer")

	cfg.OutputLayer = "pool"
	err = checkDimension(cfg, classScores)
	require.True(t, errors.As(err, &dimErr))
	assert.NotContains(t, err.Error(), "backbone.output_layer")

	assert.NoError(t, checkDimension(cfg, similarity.NewEmbedding(make([]float32, 1024))))

	cfg.Dimension = 0
	assert.NoError(t, checkDimension(cfg, classScores))
}

func TestExtractBytesHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(DefaultBackboneConfig(), nil).ExtractBytes(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// modelExtractor returns an extractor backed by the model named in
// REPORTDEDUP_TEST_MODEL, skipping when it is not set
func modelExtractor(t *testing.T) *Extractor {
	t.Helper()
	path := os.Getenv("REPORTDEDUP_TEST_MODEL")
	if path == "" {
		t.Skip("REPORTDEDUP_TEST_MODEL not set")
	}
	cfg := DefaultBackboneConfig()
	cfg.ModelPath = path
	cfg.OutputLayer = os.Getenv("REPORTDEDUP_TEST_MODEL_LAYER")
	cfg.Dimension = 0

	e := NewExtractor(cfg, nil)
	require.NoError(t, e.Warmup())
	return e
}

func TestExtractionIsDeterministic(t *testing.T) {
	e := modelExtractor(t)
	data := encodePNG(t, solid(color.RGBA{R: 180, G: 40, B: 40, A: 255}, 300, 200))

	a, err := e.ExtractBytes(context.Background(), data)
	require.NoError(t, err)
	b, err := e.ExtractBytes(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, a.Values(), b.Values())
	sim, err := similarity.CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestDifferentImagesScoreBelowSelf(t *testing.T) {
	e := modelExtractor(t)
	ctx := context.Background()

	red, err := e.ExtractBytes(ctx, encodePNG(t, solid(color.RGBA{R: 255, A: 255}, 224, 224)))
	require.NoError(t, err)

	// checkerboard, nothing like a flat red field
	board := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for x := 0; x < 224; x++ {
		for y := 0; y < 224; y++ {
			if (x/16+y/16)%2 == 0 {
				board.Set(x, y, color.Black)
			} else {
				board.Set(x, y, color.White)
			}
		}
	}
	other, err := e.ExtractBytes(ctx, encodePNG(t, board))
	require.NoError(t, err)

	self, err := similarity.CosineSimilarity(red, red)
	require.NoError(t, err)
	cross, err := similarity.CosineSimilarity(red, other)
	require.NoError(t, err)
	assert.Less(t, cross, self)
}
