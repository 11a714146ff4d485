package imageprocessor

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"reportdedup/logging"
	"reportdedup/similarity"
	"reportdedup/types"
)

var errImageEmpty = errors.New("image has no pixels")

// BackboneConfig describes the pretrained network and its input normalization
type BackboneConfig struct {
	ModelPath   string
	ConfigPath  string
	Backend     string
	Target      string
	InputSize   int
	OutputLayer string
	Dimension   int
	Scale       float64
	Mean        float64
	SwapRB      bool
}

// DefaultBackboneConfig matches a MobileNet v1 classifier with its head removed.
// For a full classifier, set OutputLayer to the pooled feature layer.
func DefaultBackboneConfig() BackboneConfig {
	return BackboneConfig{
		Backend:   "default",
		Target:    "cpu",
		InputSize: 224,
		Dimension: 1024,
		Scale:     1.0 / 127.5,
		Mean:      127.5,
		SwapRB:    true,
	}
}

// Backbone wraps a loaded gocv.Net.
// A Net keeps per-call state between SetInput and Forward, so inference is serialized.
type Backbone struct {
	mu  sync.Mutex
	net gocv.Net
	cfg BackboneConfig
}

// LoadBackbone reads the network from disk
func LoadBackbone(cfg BackboneConfig) (*Backbone, error) {
	if cfg.ModelPath == "" {
		return nil, &types.BackboneLoadError{Err: errors.New("no model path configured")}
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, &types.BackboneLoadError{ModelPath: cfg.ModelPath, Err: err}
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultBackboneConfig().InputSize
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		net.Close()
		return nil, &types.BackboneLoadError{ModelPath: cfg.ModelPath, Err: errors.New("network is empty after load")}
	}
	net.SetPreferableBackend(gocv.ParseNetBackend(cfg.Backend))
	net.SetPreferableTarget(gocv.ParseNetTarget(cfg.Target))

	logging.LogInfo("Loaded backbone %s (input %dx%d, output layer %q)", cfg.ModelPath, cfg.InputSize, cfg.InputSize, cfg.OutputLayer)
	return &Backbone{net: net, cfg: cfg}, nil
}

// Infer runs one forward pass over a BGR image already resized to the input size
func (b *Backbone) Infer(img gocv.Mat) (similarity.Embedding, error) {
	size := b.cfg.InputSize
	mean := gocv.NewScalar(b.cfg.Mean, b.cfg.Mean, b.cfg.Mean, 0)
	blob := gocv.BlobFromImage(img, b.cfg.Scale, image.Pt(size, size), mean, b.cfg.SwapRB, false)
	defer blob.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.net.SetInput(blob, "")
	out := b.net.Forward(b.cfg.OutputLayer)
	defer out.Close()

	if out.Empty() {
		return similarity.Embedding{}, errors.New("forward pass produced no output")
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return similarity.Embedding{}, errors.Wrap(err, "reading network output")
	}
	// NewEmbedding copies, so the Mat can be closed on return
	return similarity.NewEmbedding(data), nil
}

// Close releases the network
func (b *Backbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.net.Close()
}

// lazyBackbone loads its network on first use. A failed load is remembered
// and returned to every later caller.
type lazyBackbone struct {
	once sync.Once
	cfg  BackboneConfig
	bb   *Backbone
	err  error
}

func (l *lazyBackbone) get() (*Backbone, error) {
	l.once.Do(func() {
		l.bb, l.err = LoadBackbone(l.cfg)
		if l.err != nil {
			logging.LogError("Backbone unavailable: %v", l.err)
		}
	})
	return l.bb, l.err
}

// one network per configuration per process
var sharedBackbones sync.Map

func sharedBackbone(cfg BackboneConfig) *lazyBackbone {
	holder, _ := sharedBackbones.LoadOrStore(cfg, &lazyBackbone{cfg: cfg})
	return holder.(*lazyBackbone)
}
