//go:build govips && cgo

package normalize

import (
	"context"
	"fmt"
	"math"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsCodec struct{}

func (govipsCodec) Resample(ctx context.Context, input []byte, maxDim, quality int) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return nil, 0, 0, fmt.Errorf("auto rotate: %w", err)
	}
	if img.Width() <= 0 || img.Height() <= 0 {
		return nil, 0, 0, fmt.Errorf("source image has invalid dimensions")
	}

	if img.Width() > maxDim || img.Height() > maxDim {
		scale := math.Min(float64(maxDim)/float64(img.Width()), float64(maxDim)/float64(img.Height()))
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, 0, 0, fmt.Errorf("resize image: %w", err)
		}
	}

	params := vips.NewJpegExportParams()
	params.Quality = quality
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return data, img.Width(), img.Height(), nil
}
