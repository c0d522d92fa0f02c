package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type ImageAsset struct {
	URI    string
	Width  int
	Height int
}

type CapturedImage struct {
	URI     string
	Quality float64
}

type Filter struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PromptHint  string `json:"promptHint,omitempty"`
}

type TransformationRequest struct {
	ImageURI string
	Face     Face
	FilterID string
}

func (r TransformationRequest) Validate() error {
	if strings.TrimSpace(r.ImageURI) == "" {
		return errors.New("image uri is required")
	}
	if strings.TrimSpace(r.FilterID) == "" {
		return errors.New("filter id is required")
	}
	if r.Face.Bounds.Width <= 0 || r.Face.Bounds.Height <= 0 {
		return errors.New("face bounds must have a positive size")
	}
	return nil
}

type TransformationResult struct {
	TransformedURI string
	FilterID       string
}

const (
	RunOutcomeTransformed = "transformed"
	RunOutcomeFailed      = "transform_failed"
	RunOutcomeFaceInvalid = "face_invalid"
)

// RunLog is outcome metadata for one pipeline run. It never carries the
// transformed image itself.
type RunLog struct {
	SessionID  string
	FilterID   string
	Outcome    string
	ErrorKind  string
	FaceCount  int
	LowClarity bool
	DurationMS int64
	CreatedAt  time.Time
}

// LocalPath resolves a file:// URI or a plain path to a filesystem path. Query
// strings are dropped so derived URIs still point at their backing file.
func LocalPath(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", errors.New("empty image uri")
	}
	if strings.HasPrefix(uri, "file://") {
		parsed, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("parse image uri: %w", err)
		}
		return parsed.Path, nil
	}
	if strings.Contains(uri, "://") {
		return "", fmt.Errorf("unsupported image uri scheme: %s", uri)
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	return uri, nil
}
