package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/facefilter/internal/capture"
	"github.com/dunamismax/facefilter/internal/catalog"
	"github.com/dunamismax/facefilter/internal/domain"
	"github.com/dunamismax/facefilter/internal/face"
	"github.com/dunamismax/facefilter/internal/normalize"
	"github.com/dunamismax/facefilter/internal/permission"
	"github.com/dunamismax/facefilter/internal/share"
	"github.com/dunamismax/facefilter/internal/store"
	"github.com/dunamismax/facefilter/internal/transform"
)

type stubCamera struct {
	uri string
	err error
}

func (c stubCamera) Capture(context.Context) (domain.CapturedImage, error) {
	if c.err != nil {
		return domain.CapturedImage{}, c.err
	}
	return domain.CapturedImage{URI: c.uri, Quality: 0.8}, nil
}

type stubNormalizer struct {
	calls int
	err   error
}

func (n *stubNormalizer) Normalize(_ context.Context, uri string, opts normalize.Options) (domain.ImageAsset, error) {
	n.calls++
	if n.err != nil {
		return domain.ImageAsset{}, n.err
	}
	if opts.MaxDimension != 1080 {
		return domain.ImageAsset{}, errors.New("unexpected max dimension")
	}
	return domain.ImageAsset{URI: uri + ".normalized.jpg", Width: 1080, Height: 810}, nil
}

type stubGallery struct {
	assetID string
	err     error
	saved   []string
}

func (g *stubGallery) Save(_ context.Context, uri string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.saved = append(g.saved, uri)
	return g.assetID, nil
}

type stubShare struct {
	available bool
	shared    []share.Options
}

func (s *stubShare) Available(context.Context) bool { return s.available }

func (s *stubShare) Share(_ context.Context, _ string, opts share.Options) error {
	s.shared = append(s.shared, opts)
	return nil
}

// blockingTransformer parks every call until release is closed or the
// context ends.
type blockingTransformer struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingTransformer() *blockingTransformer {
	return &blockingTransformer{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingTransformer) Transform(ctx context.Context, req domain.TransformationRequest, _ transform.ProgressFunc) (domain.TransformationResult, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return domain.TransformationResult{TransformedURI: req.ImageURI + "?transformed=" + req.FilterID, FilterID: req.FilterID}, nil
	case <-ctx.Done():
		return domain.TransformationResult{}, ctx.Err()
	}
}

type scriptedTransformer struct {
	errs []error
	reqs []domain.TransformationRequest
}

func (s *scriptedTransformer) Transform(_ context.Context, req domain.TransformationRequest, progress transform.ProgressFunc) (domain.TransformationResult, error) {
	s.reqs = append(s.reqs, req)
	progress(true)
	defer progress(false)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.TransformationResult{}, err
		}
	}
	return domain.TransformationResult{TransformedURI: req.ImageURI + "?transformed=" + req.FilterID, FilterID: req.FilterID}, nil
}

func square(x, y, size float64) domain.Face {
	return domain.Face{Bounds: domain.BoundingBox{X: x, Y: y, Width: size, Height: size}}
}

func simulatedRequester(t *testing.T) *transform.Requester {
	t.Helper()
	sim := &transform.Simulator{Rand: func() float64 { return 0.5 }}
	settings := transform.Settings{APIKey: "key", Endpoint: "https://transform.example.test"}
	return transform.NewRequester(settings, catalog.Default(), sim, nil)
}

func newTestController(t *testing.T, deps Deps) *Controller {
	t.Helper()
	if deps.Camera == nil {
		deps.Camera = stubCamera{uri: "/tmp/capture.jpg"}
	}
	if deps.Normalizer == nil {
		deps.Normalizer = &stubNormalizer{}
	}
	if deps.Detector == nil {
		deps.Detector = face.StaticDetector{Faces: []domain.Face{square(0, 0, 400)}}
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Transformer == nil {
		deps.Transformer = simulatedRequester(t)
	}
	c, err := NewController(deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func TestSingleFaceTransformDerivesURI(t *testing.T) {
	runs := store.NewMemoryRunStore()
	c := newTestController(t, Deps{Runs: runs})

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	s := c.Snapshot()
	if s.State != StateFaceValidated {
		t.Fatalf("expected face_validated, got %s (%s)", s.State, s.LastError)
	}
	if s.ValidatedFace == nil || s.ValidatedFace.Bounds != (domain.BoundingBox{Width: 400, Height: 400}) {
		t.Fatalf("unexpected validated face %+v", s.ValidatedFace)
	}

	if err := c.SelectFilter(context.Background(), "comic_happy"); err != nil {
		t.Fatalf("select filter: %v", err)
	}
	s = c.Snapshot()
	if s.State != StateTransformSucceeded {
		t.Fatalf("expected transform_succeeded, got %s", s.State)
	}
	if want := s.NormalizedURI + "?transformed=comic_happy"; s.TransformedURI != want {
		t.Fatalf("expected %q, got %q", want, s.TransformedURI)
	}

	recent, _ := runs.Recent(context.Background(), 0)
	if len(recent) != 1 || recent[0].Outcome != domain.RunOutcomeTransformed || recent[0].SessionID != s.ID {
		t.Fatalf("unexpected run log %+v", recent)
	}
}

func TestLargestFaceIsValidated(t *testing.T) {
	c := newTestController(t, Deps{
		Detector: face.StaticDetector{Faces: []domain.Face{square(0, 0, 100), square(200, 50, 300)}},
	})

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	s := c.Snapshot()
	if s.ValidatedFace == nil || s.ValidatedFace.Bounds.Width != 300 {
		t.Fatalf("expected the 300x300 face, got %+v", s.ValidatedFace)
	}
	if len(s.DetectedFaces) != 2 {
		t.Fatalf("expected both detections kept, got %d", len(s.DetectedFaces))
	}
}

func TestNoFaceRejectsFilterSelection(t *testing.T) {
	runs := store.NewMemoryRunStore()
	c := newTestController(t, Deps{Detector: face.StaticDetector{}, Runs: runs})

	err := c.Capture(context.Background())
	if !domain.IsKind(err, domain.KindNoFaceDetected) {
		t.Fatalf("expected NoFaceDetected, got %v", err)
	}
	s := c.Snapshot()
	if s.State != StateFaceInvalid || s.LastError != "No faces detected" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.ValidatedFace != nil {
		t.Fatal("validated face must stay nil")
	}

	if err := c.SelectFilter(context.Background(), "comic_happy"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if c.Snapshot().SelectedFilterID != "" {
		t.Fatal("rejected selection must not set a filter")
	}

	recent, _ := runs.Recent(context.Background(), 0)
	if len(recent) != 1 || recent[0].Outcome != domain.RunOutcomeFaceInvalid {
		t.Fatalf("expected one face_invalid run, got %+v", recent)
	}
}

func TestMissingConfigurationFailsFast(t *testing.T) {
	sim := &transform.Simulator{Latency: time.Hour}
	requester := transform.NewRequester(transform.Settings{}, catalog.Default(), sim, nil)
	c := newTestController(t, Deps{Transformer: requester})

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	started := time.Now()
	err := c.SelectFilter(context.Background(), "comic_happy")
	if !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if time.Since(started) > time.Second {
		t.Fatal("configuration failure must not wait for the transform latency")
	}
	if s := c.Snapshot(); s.State != StateTransformFailed || s.LastErrorKind != domain.KindConfiguration {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestResetRestoresIdleDefaults(t *testing.T) {
	normalizer := &stubNormalizer{}
	c := newTestController(t, Deps{Normalizer: normalizer})

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.SelectFilter(context.Background(), "dino_angry"); err != nil {
		t.Fatalf("select filter: %v", err)
	}

	c.Reset()
	s := c.Snapshot()
	if s.State != StateIdle || s.ID != "" || s.CapturedURI != "" || s.NormalizedURI != "" ||
		s.DetectedFaces != nil || s.ValidatedFace != nil || s.LowClarity ||
		s.SelectedFilterID != "" || s.TransformedURI != "" || s.SavedAssetID != "" ||
		s.LastError != "" || s.LastErrorKind != "" {
		t.Fatalf("expected idle defaults, got %+v", s)
	}

	time.Sleep(10 * time.Millisecond)
	if normalizer.calls != 1 {
		t.Fatalf("expected no stage to re-run after reset, normalizer calls=%d", normalizer.calls)
	}
}

func TestRetryAfterTransformFailureKeepsValidatedFace(t *testing.T) {
	transformer := &scriptedTransformer{errs: []error{
		domain.NewError(domain.KindSimulation, "Simulated transformation failure.", nil),
	}}
	c := newTestController(t, Deps{Transformer: transformer})

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.SelectFilter(context.Background(), "clown_nose"); !domain.IsKind(err, domain.KindSimulation) {
		t.Fatalf("expected SimulationError, got %v", err)
	}
	s := c.Snapshot()
	if s.State != StateTransformFailed || s.LastError != "Simulated transformation failure." {
		t.Fatalf("unexpected failed session %+v", s)
	}

	if err := c.SelectFilter(context.Background(), "comic_happy"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	s = c.Snapshot()
	if s.State != StateTransformSucceeded || s.LastError != "" || s.ValidatedFace == nil {
		t.Fatalf("unexpected session after retry %+v", s)
	}
	if transformer.reqs[0].Face != transformer.reqs[1].Face {
		t.Fatal("retry must reuse the validated face")
	}
}

func TestSelectingNewFilterClearsPreviousResult(t *testing.T) {
	blocking := newBlockingTransformer()
	c := newTestController(t, Deps{Transformer: blocking})
	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}

	close(blocking.release)
	if err := c.SelectFilter(context.Background(), "comic_happy"); err != nil {
		t.Fatalf("first filter: %v", err)
	}
	<-blocking.started

	var mu sync.Mutex
	var sawStaleResult bool
	unsubscribe := c.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Session.SelectedFilterID == "telenovela_drama" && e.Session.TransformedURI != "" && e.Session.State == StateTransforming {
			sawStaleResult = true
		}
	})
	defer unsubscribe()

	if err := c.SelectFilter(context.Background(), "telenovela_drama"); err != nil {
		t.Fatalf("second filter: %v", err)
	}
	<-blocking.started

	mu.Lock()
	defer mu.Unlock()
	if sawStaleResult {
		t.Fatal("new selection was shown alongside the previous result")
	}
	if got := c.Snapshot().TransformedURI; got == "" || got[len(got)-len("telenovela_drama"):] != "telenovela_drama" {
		t.Fatalf("unexpected transformed uri %q", got)
	}
}

func TestBusyAndStaleResultDiscarded(t *testing.T) {
	blocking := newBlockingTransformer()
	c := newTestController(t, Deps{Transformer: blocking})
	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.SelectFilter(context.Background(), "comic_happy")
	}()
	<-blocking.started

	if err := c.SelectFilter(context.Background(), "dino_angry"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while transforming, got %v", err)
	}
	if err := c.Capture(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for capture while transforming, got %v", err)
	}

	c.Reset()
	if err := <-done; !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
	s := c.Snapshot()
	if s.State != StateIdle || s.TransformedURI != "" || s.LastError != "" {
		t.Fatalf("stale result leaked into session %+v", s)
	}

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture after reset: %v", err)
	}
}

func TestCaptureRequiresIdle(t *testing.T) {
	c := newTestController(t, Deps{})
	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.Capture(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := c.Pick(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pick, got %v", err)
	}
}

func TestStageFailuresMapToErrorStates(t *testing.T) {
	cases := []struct {
		name  string
		deps  Deps
		state State
		kind  domain.ErrorKind
	}{
		{
			name:  "camera failure",
			deps:  Deps{Camera: stubCamera{err: domain.NewError(domain.KindCapture, "Could not take the photo.", nil)}},
			state: StateCaptureFailed,
			kind:  domain.KindCapture,
		},
		{
			name:  "normalize failure",
			deps:  Deps{Normalizer: &stubNormalizer{err: domain.NewError(domain.KindCodec, "Could not decode the image.", nil)}},
			state: StateNormalizeFailed,
			kind:  domain.KindCodec,
		},
		{
			name:  "detector failure",
			deps:  Deps{Detector: face.StaticDetector{Err: domain.NewError(domain.KindDetector, "Face detection failed.", nil)}},
			state: StateFaceInvalid,
			kind:  domain.KindDetector,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestController(t, tc.deps)
			err := c.Capture(context.Background())
			if !domain.IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			s := c.Snapshot()
			if s.State != tc.state || s.LastErrorKind != tc.kind || s.LastError == "" {
				t.Fatalf("unexpected session %+v", s)
			}
			if err := c.Capture(context.Background()); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("error state must only accept reset, got %v", err)
			}
			c.Reset()
			if c.Snapshot().State != StateIdle {
				t.Fatal("reset must return to idle")
			}
		})
	}
}

func TestCameraPermissionDenied(t *testing.T) {
	gate, err := permission.NewStaticGate([]string{"camera:permanent"})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	opened := 0
	gate.OnOpenSettings = func(permission.Capability) { opened++ }
	c := newTestController(t, Deps{Permissions: gate})

	err = c.Capture(context.Background())
	if !domain.IsKind(err, domain.KindPermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if c.Snapshot().State != StateCaptureFailed || opened != 1 {
		t.Fatalf("expected capture_failed with settings escalation, state=%s opened=%d", c.Snapshot().State, opened)
	}
}

func TestPickCancelReturnsToIdle(t *testing.T) {
	c := newTestController(t, Deps{Picker: capture.PathPicker{}})

	if err := c.Pick(context.Background()); !errors.Is(err, capture.ErrPickCanceled) {
		t.Fatalf("expected ErrPickCanceled, got %v", err)
	}
	if s := c.Snapshot(); s.State != StateIdle || s.LastError != "" {
		t.Fatalf("expected clean idle session, got %+v", s)
	}
}

func TestSaveAndShare(t *testing.T) {
	galleryWriter := &stubGallery{assetID: "asset-1"}
	surface := &stubShare{available: true}
	c := newTestController(t, Deps{Gallery: galleryWriter, Share: surface})

	if _, err := c.Save(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before a result exists, got %v", err)
	}

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.SelectFilter(context.Background(), "comic_happy"); err != nil {
		t.Fatalf("select filter: %v", err)
	}

	assetID, err := c.Save(context.Background())
	if err != nil || assetID != "asset-1" {
		t.Fatalf("save: id=%q err=%v", assetID, err)
	}
	s := c.Snapshot()
	if s.State != StateTransformSucceeded || s.SavedAssetID != "asset-1" {
		t.Fatalf("unexpected session after save %+v", s)
	}
	if len(galleryWriter.saved) != 1 || galleryWriter.saved[0] != s.TransformedURI {
		t.Fatalf("expected transformed uri saved, got %v", galleryWriter.saved)
	}

	if err := c.Share(context.Background(), share.Options{}); err != nil {
		t.Fatalf("share: %v", err)
	}
	if c.Snapshot().State != StateTransformSucceeded || len(surface.shared) != 1 {
		t.Fatal("expected share to return to transform_succeeded")
	}
}

func TestSaveFailureKeepsResult(t *testing.T) {
	galleryWriter := &stubGallery{err: domain.NewError(domain.KindStorage, "Could not save the image.", nil)}
	c := newTestController(t, Deps{Gallery: galleryWriter, Share: &stubShare{}})
	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.SelectFilter(context.Background(), "comic_happy"); err != nil {
		t.Fatalf("select filter: %v", err)
	}

	if _, err := c.Save(context.Background()); !domain.IsKind(err, domain.KindStorage) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	s := c.Snapshot()
	if s.State != StateTransformSucceeded || s.TransformedURI == "" || s.LastErrorKind != domain.KindStorage {
		t.Fatalf("unexpected session %+v", s)
	}

	if err := c.Share(context.Background(), share.Options{}); !domain.IsKind(err, domain.KindShareUnavailable) {
		t.Fatalf("expected ShareUnavailable, got %v", err)
	}
}

func TestObserversReceiveProgress(t *testing.T) {
	c := newTestController(t, Deps{Transformer: &scriptedTransformer{}})

	var progress []bool
	var states []State
	unsubscribe := c.Subscribe(func(e Event) {
		switch e.Type {
		case EventTransformProgress:
			progress = append(progress, e.InProgress)
		case EventSessionChanged:
			states = append(states, e.Session.State)
		}
	})

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.SelectFilter(context.Background(), "comic_happy"); err != nil {
		t.Fatalf("select filter: %v", err)
	}
	unsubscribe()
	c.Reset()

	if len(progress) != 2 || !progress[0] || progress[1] {
		t.Fatalf("expected progress [true false], got %v", progress)
	}
	want := []State{StateCapturing, StateNormalizing, StateDetectingFace, StateFaceValidated, StateTransforming, StateTransformSucceeded}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, states)
		}
	}
}

func TestNewControllerRequiresCoreCollaborators(t *testing.T) {
	if _, err := NewController(Deps{}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}
