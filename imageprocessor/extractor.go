package imageprocessor

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"reportdedup/fetch"
	"reportdedup/similarity"
	"reportdedup/types"
)

// Extractor produces embeddings from image bytes or URLs
type Extractor struct {
	backbone *lazyBackbone
	decoders *DecoderRegistry
	fetcher  *fetch.Client
	cfg      BackboneConfig
}

// NewExtractor creates an extractor. The backbone is not loaded until the
// first extraction or an explicit Warmup.
func NewExtractor(cfg BackboneConfig, fetcher *fetch.Client) *Extractor {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultBackboneConfig().InputSize
	}
	if fetcher == nil {
		fetcher = fetch.NewClient(fetch.DefaultOptions())
	}
	return &Extractor{
		backbone: sharedBackbone(cfg),
		decoders: NewDecoderRegistry(),
		fetcher:  fetcher,
		cfg:      cfg,
	}
}

// Warmup loads the backbone now instead of on first use
func (e *Extractor) Warmup() error {
	_, err := e.backbone.get()
	return err
}

// ExtractBytes decodes data and returns its embedding
func (e *Extractor) ExtractBytes(ctx context.Context, data []byte) (similarity.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return similarity.Embedding{}, err
	}

	bb, err := e.backbone.get()
	if err != nil {
		return similarity.Embedding{}, err
	}

	img, err := e.decoders.Decode(data)
	if err != nil {
		img.Close()
		return similarity.Embedding{}, err
	}
	defer img.Close()

	size := e.cfg.InputSize
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
	if resized.Empty() {
		return similarity.Embedding{}, &types.ImageDecodeError{Err: errors.New("resize produced an empty image")}
	}

	emb, err := bb.Infer(resized)
	if err != nil {
		return similarity.Embedding{}, err
	}
	if err := checkDimension(e.cfg, emb); err != nil {
		return similarity.Embedding{}, err
	}
	return emb, nil
}

// checkDimension rejects an embedding of the wrong length. With no output
// layer configured the network's last layer is used, which for a stock
// classifier yields class scores instead of pooled features.
func checkDimension(cfg BackboneConfig, emb similarity.Embedding) error {
	if cfg.Dimension <= 0 || emb.Len() == cfg.Dimension {
		return nil
	}
	err := &types.DimensionMismatchError{Got: emb.Len(), Want: cfg.Dimension}
	if cfg.OutputLayer == "" {
		return errors.Wrap(err, "backbone.output_layer is unset; name the pooled feature layer or use a model without its classification head")
	}
	return err
}

// ExtractURL downloads url and returns its embedding
func (e *Extractor) ExtractURL(ctx context.Context, url string) (similarity.Embedding, error) {
	img, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return similarity.Embedding{}, err
	}

	emb, err := e.ExtractBytes(ctx, img.Data)
	if err != nil {
		var decodeErr *types.ImageDecodeError
		if errors.As(err, &decodeErr) && decodeErr.Source == "" {
			return similarity.Embedding{}, &types.ImageDecodeError{Source: url, Err: decodeErr.Err}
		}
		return similarity.Embedding{}, err
	}
	return emb, nil
}
