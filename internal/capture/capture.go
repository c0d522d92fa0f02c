package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dunamismax/facefilter/internal/domain"
	"github.com/dunamismax/facefilter/internal/id"
)

// DefaultQuality is the compression quality requested from the camera.
const DefaultQuality = 0.8

var ErrPickCanceled = errors.New("pick canceled")

type Camera interface {
	Capture(ctx context.Context) (domain.CapturedImage, error)
}

// Picker returns the URI of an image the user chose. It returns
// ErrPickCanceled when the user backs out without choosing.
type Picker interface {
	Pick(ctx context.Context) (string, error)
}

// CommandCamera runs an external capture command. The command receives the
// output path as its last argument and must write a JPEG there.
type CommandCamera struct {
	Command   string
	OutputDir string
	Quality   float64
}

func (c CommandCamera) Capture(ctx context.Context) (domain.CapturedImage, error) {
	parts := strings.Fields(c.Command)
	if len(parts) == 0 {
		return domain.CapturedImage{}, domain.NewError(domain.KindCapture, "No camera is available.", errors.New("capture command is empty"))
	}

	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return domain.CapturedImage{}, domain.NewError(domain.KindIO, "Could not prepare the capture directory.", err)
	}
	path := filepath.Join(c.OutputDir, "capture-"+id.Short()+".jpg")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], path)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return domain.CapturedImage{}, ctx.Err()
		}
		return domain.CapturedImage{}, domain.NewError(domain.KindCapture, "Could not take the photo.",
			fmt.Errorf("run capture command: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return domain.CapturedImage{}, domain.NewError(domain.KindCapture, "Could not take the photo.",
			fmt.Errorf("capture command produced no image at %s", path))
	}

	return domain.CapturedImage{URI: path, Quality: c.quality()}, nil
}

func (c CommandCamera) quality() float64 {
	if c.Quality <= 0 || c.Quality > 1 {
		return DefaultQuality
	}
	return c.Quality
}

// FileCamera returns an existing image as if it had just been captured.
type FileCamera struct {
	Path string
}

func (c FileCamera) Capture(ctx context.Context) (domain.CapturedImage, error) {
	if err := ctx.Err(); err != nil {
		return domain.CapturedImage{}, err
	}
	if err := requireFile(c.Path); err != nil {
		return domain.CapturedImage{}, domain.NewError(domain.KindCapture, "Could not take the photo.", err)
	}
	return domain.CapturedImage{URI: c.Path, Quality: DefaultQuality}, nil
}

// PathPicker picks a fixed path. An empty path is treated as a canceled pick.
type PathPicker struct {
	Path string
}

func (p PathPicker) Pick(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Path) == "" {
		return "", ErrPickCanceled
	}
	if err := requireFile(p.Path); err != nil {
		return "", domain.NewError(domain.KindIO, "Could not open the selected image.", err)
	}
	return p.Path, nil
}

func requireFile(path string) error {
	local, err := domain.LocalPath(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("stat %s: %w", local, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", local)
	}
	return nil
}
