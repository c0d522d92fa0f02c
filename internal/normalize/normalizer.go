package normalize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/facefilter/internal/domain"
	"github.com/dunamismax/facefilter/internal/id"
)

const (
	DefaultMaxDimension = 1080
	DefaultQuality      = 0.7
)

type Options struct {
	MaxDimension int
	// Quality is the JPEG quality factor in (0,1].
	Quality float64
}

func DefaultOptions() Options {
	return Options{MaxDimension: DefaultMaxDimension, Quality: DefaultQuality}
}

type Normalizer interface {
	Normalize(ctx context.Context, uri string, opts Options) (domain.ImageAsset, error)
}

// codec resamples encoded image bytes so both sides fit within maxDim and
// re-encodes them as JPEG.
type codec interface {
	Resample(ctx context.Context, input []byte, maxDim, quality int) (data []byte, width, height int, err error)
}

type FileNormalizer struct {
	OutputDir string
	codec     codec
}

func NewFileNormalizer(outputDir string) (*FileNormalizer, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	c, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return &FileNormalizer{OutputDir: outputDir, codec: c}, nil
}

func (n *FileNormalizer) Normalize(ctx context.Context, uri string, opts Options) (domain.ImageAsset, error) {
	opts = opts.withDefaults()

	srcPath, err := domain.LocalPath(uri)
	if err != nil {
		return domain.ImageAsset{}, domain.NewError(domain.KindIO, "Could not read the image.", err)
	}
	input, err := os.ReadFile(srcPath)
	if err != nil {
		return domain.ImageAsset{}, domain.NewError(domain.KindIO, "Could not read the image.", fmt.Errorf("read %s: %w", srcPath, err))
	}

	data, width, height, err := n.codec.Resample(ctx, input, opts.MaxDimension, jpegQuality(opts.Quality))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ImageAsset{}, ctxErr
		}
		return domain.ImageAsset{}, domain.NewError(domain.KindCodec, "Could not process the image.", err)
	}

	if err := os.MkdirAll(n.OutputDir, 0o755); err != nil {
		return domain.ImageAsset{}, domain.NewError(domain.KindIO, "Could not save the processed image.", fmt.Errorf("create output dir: %w", err))
	}
	outPath := filepath.Join(n.OutputDir, id.Short()+".jpg")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return domain.ImageAsset{}, domain.NewError(domain.KindIO, "Could not save the processed image.", fmt.Errorf("write %s: %w", outPath, err))
	}

	return domain.ImageAsset{URI: outPath, Width: width, Height: height}, nil
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	return o
}

// fitWithin scales (w, h) down so neither side exceeds maxDim. Images that
// already fit are returned unchanged.
func fitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	scale := math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h))
	nw := clamp(int(math.Round(float64(w)*scale)), 1, maxDim)
	nh := clamp(int(math.Round(float64(h)*scale)), 1, maxDim)
	return nw, nh
}

func jpegQuality(q float64) int {
	return clamp(int(math.Round(q*100)), 1, 100)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
