package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/facefilter/internal/domain"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCommandCameraCapture(t *testing.T) {
	script := writeScript(t, `for last; do :; done; printf 'jpeg' > "$last"`)
	camera := CommandCamera{Command: "/bin/sh " + script, OutputDir: t.TempDir()}

	img, err := camera.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if img.Quality != DefaultQuality {
		t.Fatalf("expected default quality, got %g", img.Quality)
	}
	data, err := os.ReadFile(img.URI)
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("expected captured file, got %q err=%v", data, err)
	}
}

func TestCommandCameraFailures(t *testing.T) {
	cases := map[string]CommandCamera{
		"empty command":  {Command: "", OutputDir: t.TempDir()},
		"command fails":  {Command: "/bin/sh " + writeScript(t, "echo broken >&2; exit 3"), OutputDir: t.TempDir()},
		"no image saved": {Command: "/bin/sh " + writeScript(t, "exit 0"), OutputDir: t.TempDir()},
	}
	for name, camera := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := camera.Capture(context.Background())
			if !domain.IsKind(err, domain.KindCapture) {
				t.Fatalf("expected CaptureError, got %v", err)
			}
		})
	}
}

func TestFileCamera(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	img, err := FileCamera{Path: path}.Capture(context.Background())
	if err != nil || img.URI != path {
		t.Fatalf("unexpected capture %+v err=%v", img, err)
	}

	_, err = FileCamera{Path: filepath.Join(t.TempDir(), "missing.jpg")}.Capture(context.Background())
	if !domain.IsKind(err, domain.KindCapture) {
		t.Fatalf("expected CaptureError for missing file, got %v", err)
	}
}

func TestPathPicker(t *testing.T) {
	if _, err := (PathPicker{}).Pick(context.Background()); !errors.Is(err, ErrPickCanceled) {
		t.Fatalf("expected ErrPickCanceled, got %v", err)
	}

	dir := t.TempDir()
	if _, err := (PathPicker{Path: dir}).Pick(context.Background()); !domain.IsKind(err, domain.KindIO) {
		t.Fatalf("expected IOError for directory, got %v", err)
	}

	path := filepath.Join(dir, "photo.png")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	got, err := PathPicker{Path: path}.Pick(context.Background())
	if err != nil || got != path {
		t.Fatalf("unexpected pick %q err=%v", got, err)
	}
}
