package share

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/facefilter/internal/domain"
)

const (
	HeaderSignature = "X-Facefilter-Signature"
	HeaderTimestamp = "X-Facefilter-Timestamp"
	HeaderEvent     = "X-Facefilter-Event"

	EventImageShared = "image.shared"

	DefaultDialogTitle = "Share your creation"
	DefaultMimeType    = "image/jpeg"
)

type Options struct {
	DialogTitle string
	MimeType    string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.DialogTitle) == "" {
		o.DialogTitle = DefaultDialogTitle
	}
	if strings.TrimSpace(o.MimeType) == "" {
		o.MimeType = DefaultMimeType
	}
	return o
}

// Surface hands an image to whatever share target the platform offers.
type Surface interface {
	Available(ctx context.Context) bool
	Share(ctx context.Context, uri string, opts Options) error
}

type Config struct {
	Endpoint      string
	SigningSecret string
	Timeout       time.Duration
}

// WebhookSurface shares by posting the image to a signed webhook endpoint.
// It is unavailable when no endpoint is configured.
type WebhookSurface struct {
	httpClient    *http.Client
	endpoint      string
	signingSecret string
	now           func() time.Time
}

type sharePayload struct {
	DialogTitle string    `json:"dialog_title"`
	MimeType    string    `json:"mime_type"`
	FileName    string    `json:"file_name"`
	Image       string    `json:"image"`
	SharedAt    time.Time `json:"shared_at"`
}

func NewWebhookSurface(cfg Config) *WebhookSurface {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSurface{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint:      strings.TrimSpace(cfg.Endpoint),
		signingSecret: cfg.SigningSecret,
		now:           time.Now,
	}
}

func (s *WebhookSurface) Available(_ context.Context) bool {
	return s.endpoint != ""
}

func (s *WebhookSurface) Share(ctx context.Context, uri string, opts Options) error {
	if !s.Available(ctx) {
		return domain.NewError(domain.KindShareUnavailable, "Sharing is not available on this device.", nil)
	}
	opts = opts.withDefaults()

	path, err := domain.LocalPath(uri)
	if err != nil {
		return domain.NewError(domain.KindIO, "Could not read the image to share.", err)
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return domain.NewError(domain.KindIO, "Could not read the image to share.", fmt.Errorf("read %s: %w", path, err))
	}

	now := s.now().UTC()
	body, err := json.Marshal(sharePayload{
		DialogTitle: opts.DialogTitle,
		MimeType:    opts.MimeType,
		FileName:    filepath.Base(path),
		Image:       base64.StdEncoding.EncodeToString(image),
		SharedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("marshal share payload: %w", err)
	}

	timestamp := strconv.FormatInt(now.Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build share request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, s.sign(timestamp, body))
	req.Header.Set(HeaderEvent, EventImageShared)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.NewError(domain.KindNetwork, "Could not share the image.", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.NewError(domain.KindAPI, "Could not share the image.", fmt.Errorf("share endpoint returned status=%d", resp.StatusCode))
	}
	return nil
}

func (s *WebhookSurface) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.signingSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
