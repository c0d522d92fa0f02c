package transform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/facefilter/internal/domain"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "normalized.jpg")
	if err := os.WriteFile(path, []byte("\xff\xd8\xff\xe0fake-jpeg"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func testCall(path string) Call {
	return Call{
		ImageURI: path,
		Face:     domain.Face{Bounds: domain.BoundingBox{X: 5, Y: 6, Width: 100, Height: 120}},
		Filter:   domain.Filter{ID: "comic_happy", PromptHint: "cartoon"},
	}
}

func TestHTTPBackendSendsRequest(t *testing.T) {
	path := writeImage(t)
	var got editRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"resultUri": "https://cdn.example.test/out.jpg"})
	}))
	defer server.Close()

	backend := NewHTTPBackend(Settings{APIKey: "secret", Endpoint: server.URL}, server.Client())
	uri, err := backend.Transform(context.Background(), testCall(path))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if uri != "https://cdn.example.test/out.jpg" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if got.Prompt != "cartoon" || got.FilterID != "comic_happy" {
		t.Fatalf("unexpected prompt/filter %+v", got)
	}
	if got.FaceRegion != (faceRegion{X: 5, Y: 6, Width: 100, Height: 120}) {
		t.Fatalf("unexpected face region %+v", got.FaceRegion)
	}
	if got.MimeType != "image/jpeg" {
		t.Fatalf("unexpected mime type %q", got.MimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(got.Image)
	if err != nil || string(decoded) != "\xff\xd8\xff\xe0fake-jpeg" {
		t.Fatalf("image payload did not round trip: %v", err)
	}
}

func TestHTTPBackendErrorResponses(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"nested message", http.StatusBadRequest, `{"error":{"message":"prompt rejected"}}`, "prompt rejected"},
		{"flat message", http.StatusUnauthorized, `{"message":"bad key"}`, "bad key"},
		{"no body", http.StatusBadGateway, ``, "API error: 502"},
		{"missing result", http.StatusOK, `{}`, "The service did not return a transformed image."},
	}

	path := writeImage(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			backend := NewHTTPBackend(Settings{APIKey: "k", Endpoint: server.URL}, server.Client())
			_, err := backend.Transform(context.Background(), testCall(path))
			if !domain.IsKind(err, domain.KindAPI) {
				t.Fatalf("expected ApiError, got %v", err)
			}
			if msg := domain.MessageOf(err); msg != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, msg)
			}
		})
	}
}

func TestHTTPBackendTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	backend := NewHTTPBackend(Settings{APIKey: "k", Endpoint: endpoint}, nil)
	_, err := backend.Transform(context.Background(), testCall(writeImage(t)))
	if !domain.IsKind(err, domain.KindNetwork) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestHTTPBackendMissingImage(t *testing.T) {
	backend := NewHTTPBackend(Settings{APIKey: "k", Endpoint: "http://127.0.0.1:1"}, nil)
	_, err := backend.Transform(context.Background(), testCall(filepath.Join(t.TempDir(), "missing.jpg")))
	if !domain.IsKind(err, domain.KindIO) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestHTTPBackendDownloadsRemoteResult(t *testing.T) {
	mux := http.NewServeMux()
	var resultURL string
	mux.HandleFunc("/edits", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"resultUri": resultURL})
	})
	mux.HandleFunc("/results/out.jpg", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("transformed-bytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	resultURL = server.URL + "/results/out.jpg"

	dir := t.TempDir()
	backend := NewHTTPBackend(Settings{APIKey: "k", Endpoint: server.URL + "/edits"}, server.Client()).WithResultDir(dir)
	path, err := backend.Transform(context.Background(), testCall(writeImage(t)))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected result under %s, got %s", dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "transformed-bytes" {
		t.Fatalf("unexpected downloaded result %q err=%v", data, err)
	}
}

func TestResultNameStaysInResultDir(t *testing.T) {
	dir := t.TempDir()
	for _, filterID := range []string{"comic_happy", "../escape", `..\escape`, "a/b/c", ""} {
		name := resultName(filterID)
		if filepath.Base(name) != name {
			t.Fatalf("resultName(%q) = %q contains a separator", filterID, name)
		}
		if got := filepath.Dir(filepath.Join(dir, name)); got != dir {
			t.Fatalf("resultName(%q) escapes %s: %s", filterID, dir, got)
		}
	}
	if name := resultName("comic_happy"); !strings.HasPrefix(name, "comic_happy-") || !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("unexpected result name %q", name)
	}
}
