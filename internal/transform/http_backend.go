package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/facefilter/internal/domain"
	"github.com/dunamismax/facefilter/internal/id"
)

const maxErrorBody = 64 << 10

// HTTPBackend calls a generative image-edit endpoint. The request carries the
// filter prompt, the image as base64 and the face region to focus the edit:
//
//	POST <endpoint>
//	Authorization: Bearer <key>
//	{"prompt": "...", "filterId": "...", "image": "...", "mimeType": "image/jpeg",
//	 "faceRegion": {"x": 0, "y": 0, "width": 400, "height": 400}}
//
// A 2xx response carries {"resultUri": "..."}. When a result directory is
// set, http(s) results are downloaded there so later stages work on a local
// file.
type HTTPBackend struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	resultDir  string
}

type faceRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type editRequest struct {
	Prompt     string     `json:"prompt"`
	FilterID   string     `json:"filterId"`
	Image      string     `json:"image"`
	MimeType   string     `json:"mimeType"`
	FaceRegion faceRegion `json:"faceRegion"`
}

type editResponse struct {
	ResultURI string `json:"resultUri"`
	Message   string `json:"message"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewHTTPBackend(settings Settings, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{
		httpClient: client,
		endpoint:   strings.TrimSpace(settings.Endpoint),
		apiKey:     strings.TrimSpace(settings.APIKey),
	}
}

func (b *HTTPBackend) WithResultDir(dir string) *HTTPBackend {
	b.resultDir = strings.TrimSpace(dir)
	return b
}

func (b *HTTPBackend) Name() string {
	return "http"
}

func (b *HTTPBackend) Transform(ctx context.Context, call Call) (string, error) {
	path, err := domain.LocalPath(call.ImageURI)
	if err != nil {
		return "", domain.NewError(domain.KindIO, "Could not read the image to transform.", err)
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return "", domain.NewError(domain.KindIO, "Could not read the image to transform.", fmt.Errorf("read %s: %w", path, err))
	}

	body, err := json.Marshal(editRequest{
		Prompt:   call.Filter.PromptHint,
		FilterID: call.Filter.ID,
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: http.DetectContentType(image),
		FaceRegion: faceRegion{
			X:      call.Face.Bounds.X,
			Y:      call.Face.Bounds.Y,
			Width:  call.Face.Bounds.Width,
			Height: call.Face.Bounds.Height,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal transform request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewError(domain.KindConfiguration, "Transformation endpoint is invalid.", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", domain.NewError(domain.KindNetwork, "Network error: "+err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", domain.NewError(domain.KindNetwork, "Network error: "+err.Error(), err)
	}

	var decoded editResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("API error: %d", resp.StatusCode)
		if decodeErr == nil {
			switch {
			case decoded.Error != nil && decoded.Error.Message != "":
				message = decoded.Error.Message
			case decoded.Message != "":
				message = decoded.Message
			}
		}
		return "", domain.NewError(domain.KindAPI, message, fmt.Errorf("transform endpoint returned status=%d", resp.StatusCode))
	}

	if decodeErr != nil {
		return "", domain.NewError(domain.KindAPI, "The service returned an unreadable response.", decodeErr)
	}
	if strings.TrimSpace(decoded.ResultURI) == "" {
		return "", domain.NewError(domain.KindAPI, "The service did not return a transformed image.", nil)
	}
	return b.fetchResult(ctx, decoded.ResultURI, call.Filter.ID)
}

func (b *HTTPBackend) fetchResult(ctx context.Context, uri, filterID string) (string, error) {
	if b.resultDir == "" || !(strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")) {
		return uri, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", domain.NewError(domain.KindAPI, "The service returned an invalid result location.", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", domain.NewError(domain.KindNetwork, "Network error: "+err.Error(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewError(domain.KindAPI, fmt.Sprintf("API error: %d", resp.StatusCode), fmt.Errorf("download result returned status=%d", resp.StatusCode))
	}

	if err := os.MkdirAll(b.resultDir, 0o755); err != nil {
		return "", domain.NewError(domain.KindIO, "Could not store the transformed image.", err)
	}
	path := filepath.Join(b.resultDir, resultName(filterID))
	f, err := os.Create(path)
	if err != nil {
		return "", domain.NewError(domain.KindIO, "Could not store the transformed image.", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", domain.NewError(domain.KindNetwork, "Network error: "+err.Error(), err)
	}
	if err := f.Close(); err != nil {
		return "", domain.NewError(domain.KindIO, "Could not store the transformed image.", err)
	}
	return path, nil
}

// resultName keeps downloaded results inside the result directory whatever
// the filter id contains.
func resultName(filterID string) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, filterID)
	return base + "-" + id.Short() + ".jpg"
}
