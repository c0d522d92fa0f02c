package gallery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/facefilter/internal/domain"
	"github.com/dunamismax/facefilter/internal/id"
)

// Writer persists an image and returns the id of the stored asset.
type Writer interface {
	Save(ctx context.Context, uri string) (string, error)
}

type LocalWriter struct {
	Dir string
}

func (w LocalWriter) Save(ctx context.Context, uri string) (string, error) {
	if strings.TrimSpace(w.Dir) == "" {
		return "", domain.NewError(domain.KindStorage, "Gallery is not configured.", fmt.Errorf("gallery directory is required"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	srcPath, err := domain.LocalPath(uri)
	if err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", fmt.Errorf("open %s: %w", srcPath, err))
	}
	defer src.Close()

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", fmt.Errorf("create gallery dir: %w", err))
	}

	assetID := id.New()
	dstPath := filepath.Join(w.Dir, assetID+extensionFor(srcPath))
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", fmt.Errorf("create %s: %w", dstPath, err))
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dstPath)
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", fmt.Errorf("copy image: %w", err))
	}
	if err := dst.Close(); err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", fmt.Errorf("close %s: %w", dstPath, err))
	}
	return assetID, nil
}

type objectWriter interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreWriter struct {
	Storage objectWriter
	Prefix  string
}

func (w ObjectStoreWriter) Save(ctx context.Context, uri string) (string, error) {
	if w.Storage == nil {
		return "", domain.NewError(domain.KindStorage, "Gallery is not configured.", fmt.Errorf("storage client is required"))
	}

	srcPath, err := domain.LocalPath(uri)
	if err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", err)
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not save the image.", fmt.Errorf("read %s: %w", srcPath, err))
	}

	assetID := id.New()
	ext := extensionFor(srcPath)
	objectKey := path.Join(defaultPrefix(w.Prefix), assetID+ext)
	exists, err := w.Storage.ObjectExists(ctx, objectKey)
	if err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not upload the image.", err)
	}
	if exists {
		// Asset keys are never overwritten, matching LocalWriter's O_EXCL.
		return "", domain.NewError(domain.KindStorage, "Could not upload the image.", fmt.Errorf("object %s already exists", objectKey))
	}
	if err := w.Storage.WriteObject(ctx, objectKey, data, contentTypeForExt(ext)); err != nil {
		return "", domain.NewError(domain.KindStorage, "Could not upload the image.", err)
	}
	return assetID, nil
}

func extensionFor(p string) string {
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return ext
	default:
		return ".jpg"
	}
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func defaultPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "gallery"
	}
	return prefix
}
