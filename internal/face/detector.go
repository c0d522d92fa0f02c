package face

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dunamismax/facefilter/internal/domain"
)

type Mode string

const (
	ModeFast     Mode = "fast"
	ModeAccurate Mode = "accurate"
)

type DetectOptions struct {
	Mode               Mode
	DetectLandmarks    bool
	RunClassifications bool
	Tracking           bool
}

// DefaultDetectOptions favours precision over speed for single still images.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		Mode:               ModeAccurate,
		DetectLandmarks:    true,
		RunClassifications: true,
		Tracking:           false,
	}
}

// Detector returns every face found in the image. A nil error with an empty
// slice means the image has no faces; a non-nil error means detection itself
// failed.
type Detector interface {
	Detect(ctx context.Context, uri string, opts DetectOptions) ([]domain.Face, error)
}

// CommandDetector runs an external detector process. The process receives the
// image path and options as flags and prints a JSON document on stdout:
//
//	{"faces": [{"bounds": {"x":0,"y":0,"width":10,"height":10}, ...}]}
//
// or {"error": "..."} on failure.
type CommandDetector struct {
	Command string
}

type commandOutput struct {
	Faces []domain.Face `json:"faces"`
	Error string        `json:"error,omitempty"`
}

func (d CommandDetector) Detect(ctx context.Context, uri string, opts DetectOptions) ([]domain.Face, error) {
	parts := strings.Fields(d.Command)
	if len(parts) == 0 {
		return nil, domain.NewError(domain.KindDetector, "Face detection is not available.", errors.New("detector command is empty"))
	}

	path, err := domain.LocalPath(uri)
	if err != nil {
		return nil, domain.NewError(domain.KindDetector, "Face detection failed. Try another photo.", err)
	}

	args := append(parts[1:], "--image", path, "--mode", string(opts.Mode))
	if opts.DetectLandmarks {
		args = append(args, "--landmarks")
	}
	if opts.RunClassifications {
		args = append(args, "--classifications")
	}
	if opts.Tracking {
		args = append(args, "--tracking")
	}

	cmd := exec.CommandContext(ctx, parts[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return nil, domain.NewError(domain.KindDetector, "Face detection failed. Try another photo.", err)
	}

	var out commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, domain.NewError(domain.KindDetector, "Face detection failed. Try another photo.", fmt.Errorf("decode detector output: %w", err))
	}
	if out.Error != "" {
		return nil, domain.NewError(domain.KindDetector, "Face detection failed. Try another photo.", errors.New(out.Error))
	}
	if out.Faces == nil {
		return []domain.Face{}, nil
	}
	return out.Faces, nil
}

// StaticDetector returns a fixed detection list, or Err when set.
type StaticDetector struct {
	Faces []domain.Face
	Err   error
}

func (d StaticDetector) Detect(ctx context.Context, _ string, _ DetectOptions) ([]domain.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	out := make([]domain.Face, len(d.Faces))
	copy(out, d.Faces)
	return out, nil
}
