package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/facefilter/internal/capture"
	"github.com/dunamismax/facefilter/internal/catalog"
	"github.com/dunamismax/facefilter/internal/domain"
	"github.com/dunamismax/facefilter/internal/face"
	"github.com/dunamismax/facefilter/internal/gallery"
	"github.com/dunamismax/facefilter/internal/id"
	"github.com/dunamismax/facefilter/internal/logging"
	"github.com/dunamismax/facefilter/internal/normalize"
	"github.com/dunamismax/facefilter/internal/permission"
	"github.com/dunamismax/facefilter/internal/share"
	"github.com/dunamismax/facefilter/internal/store"
	"github.com/dunamismax/facefilter/internal/transform"
)

var (
	ErrBusy              = errors.New("a workflow stage is already in flight")
	ErrInvalidTransition = errors.New("operation not allowed in the current state")
	ErrStaleSession      = errors.New("session was reset before the stage finished")
)

type Transformer interface {
	Transform(ctx context.Context, req domain.TransformationRequest, progress transform.ProgressFunc) (domain.TransformationResult, error)
}

// Deps are the controller's collaborators. Camera, Picker, Gallery, Share,
// Permissions, Runs and Metrics are optional.
type Deps struct {
	Camera           capture.Camera
	Picker           capture.Picker
	Normalizer       normalize.Normalizer
	NormalizeOptions normalize.Options
	Detector         face.Detector
	DetectOptions    face.DetectOptions
	Catalog          catalog.Source
	Transformer      Transformer
	Gallery          gallery.Writer
	Share            share.Surface
	Permissions      permission.Gate
	Runs             store.RunStore
	Metrics          *Metrics
	Logger           *zap.Logger
}

// Controller sequences one session at a time through capture or pick,
// normalization, face validation, transformation and save or share.
//
// Every stage captures the session generation when it starts. Reset bumps the
// generation and cancels the running stage; a stage that finishes after that
// changes nothing and returns ErrStaleSession.
type Controller struct {
	camera        capture.Camera
	picker        capture.Picker
	normalizer    normalize.Normalizer
	normalizeOpts normalize.Options
	detector      face.Detector
	detectOpts    face.DetectOptions
	catalog       catalog.Source
	transformer   Transformer
	gallery       gallery.Writer
	share         share.Surface
	permissions   permission.Gate
	runs          store.RunStore
	metrics       *Metrics
	logger        *zap.Logger
	tracer        trace.Tracer

	mu           sync.Mutex
	session      Session
	generation   uint64
	busy         bool
	cancel       context.CancelFunc
	observers    []registeredObserver
	nextObserver int
}

type registeredObserver struct {
	id int
	fn Observer
}

func NewController(deps Deps) (*Controller, error) {
	var missing []string
	if deps.Normalizer == nil {
		missing = append(missing, "normalizer")
	}
	if deps.Detector == nil {
		missing = append(missing, "detector")
	}
	if deps.Catalog == nil {
		missing = append(missing, "catalog")
	}
	if deps.Transformer == nil {
		missing = append(missing, "transformer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("workflow controller is missing: %s", strings.Join(missing, ", "))
	}

	if deps.NormalizeOptions == (normalize.Options{}) {
		deps.NormalizeOptions = normalize.DefaultOptions()
	}
	if deps.DetectOptions.Mode == "" {
		deps.DetectOptions = face.DefaultDetectOptions()
	}
	if deps.Permissions == nil {
		deps.Permissions = &permission.StaticGate{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Controller{
		camera:        deps.Camera,
		picker:        deps.Picker,
		normalizer:    deps.Normalizer,
		normalizeOpts: deps.NormalizeOptions,
		detector:      deps.Detector,
		detectOpts:    deps.DetectOptions,
		catalog:       deps.Catalog,
		transformer:   deps.Transformer,
		gallery:       deps.Gallery,
		share:         deps.Share,
		permissions:   deps.Permissions,
		runs:          deps.Runs,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		tracer:        otel.Tracer("github.com/dunamismax/facefilter/internal/workflow"),
		session:       Session{State: StateIdle},
	}, nil
}

func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

func (c *Controller) Filters(ctx context.Context) ([]domain.Filter, error) {
	return c.catalog.Filters(ctx)
}

// Subscribe registers an observer and returns a function that removes it.
// Observers are called synchronously from the goroutine that changed the
// session and must not call back into the controller.
func (c *Controller) Subscribe(observer Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObserver++
	key := c.nextObserver
	c.observers = append(c.observers, registeredObserver{id: key, fn: observer})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers = slices.DeleteFunc(c.observers, func(o registeredObserver) bool { return o.id == key })
	}
}

// Reset abandons the current session from any state. A running stage is
// cancelled and its eventual result discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	previous := c.session.ID
	c.generation++
	c.busy = false
	c.session = Session{State: StateIdle}
	snapshot := c.session.clone()
	c.mu.Unlock()

	c.metrics.resetsTotal.Inc()
	logging.WithOperation(c.logger, "reset", previous).Debug("session reset")
	c.notify(Event{Type: EventSessionChanged, Session: snapshot})
}

// Capture starts a new session from the camera and runs it through face
// validation.
func (c *Controller) Capture(ctx context.Context) error {
	st, err := c.begin(ctx, "capture", true, []State{StateIdle}, func(s *Session) error {
		s.State = StateCapturing
		return nil
	})
	if err != nil {
		return err
	}
	defer st.end()

	if c.camera == nil {
		return st.fail(StateCaptureFailed, domain.NewError(domain.KindCapture, "No camera is available.", nil))
	}
	if err := permission.Ensure(st.ctx, c.permissions, permission.CapabilityCamera); err != nil {
		return st.fail(StateCaptureFailed, err)
	}

	img, err := c.camera.Capture(st.ctx)
	if err != nil {
		return st.fail(StateCaptureFailed, err)
	}
	if err := st.apply(func(s *Session) {
		s.CapturedURI = img.URI
		s.State = StateNormalizing
	}); err != nil {
		return err
	}

	return c.prepareImage(st, img.URI)
}

// Pick starts a new session from the gallery picker. A cancelled pick returns
// the controller to idle and reports capture.ErrPickCanceled.
func (c *Controller) Pick(ctx context.Context) error {
	st, err := c.begin(ctx, "pick", true, []State{StateIdle}, func(s *Session) error {
		s.State = StatePicking
		return nil
	})
	if err != nil {
		return err
	}
	defer st.end()

	if c.picker == nil {
		return st.fail(StateCaptureFailed, domain.NewError(domain.KindCapture, "No image picker is available.", nil))
	}
	if err := permission.Ensure(st.ctx, c.permissions, permission.CapabilityMediaLibrary); err != nil {
		return st.fail(StateCaptureFailed, err)
	}

	uri, err := c.picker.Pick(st.ctx)
	if errors.Is(err, capture.ErrPickCanceled) {
		st.outcome = "canceled"
		if err := st.apply(func(s *Session) { *s = Session{State: StateIdle} }); err != nil {
			return err
		}
		return capture.ErrPickCanceled
	}
	if err != nil {
		return st.fail(StateCaptureFailed, err)
	}
	if err := st.apply(func(s *Session) {
		s.CapturedURI = uri
		s.State = StateNormalizing
	}); err != nil {
		return err
	}

	return c.prepareImage(st, uri)
}

func (c *Controller) prepareImage(st *stage, uri string) error {
	asset, err := c.normalizer.Normalize(st.ctx, uri, c.normalizeOpts)
	if err != nil {
		return st.fail(StateNormalizeFailed, err)
	}
	if err := st.apply(func(s *Session) {
		s.NormalizedURI = asset.URI
		s.State = StateDetectingFace
	}); err != nil {
		return err
	}

	faces, err := c.detector.Detect(st.ctx, asset.URI, c.detectOpts)
	if err != nil {
		return st.rejectFace(err, 0)
	}

	var dims *domain.Dimensions
	if asset.Width > 0 && asset.Height > 0 {
		dims = &domain.Dimensions{Width: asset.Width, Height: asset.Height}
	}
	result := face.Validate(faces, dims)
	if result.Face == nil {
		return st.rejectFace(result.Err, len(faces))
	}

	if result.LowClarity {
		c.metrics.lowClarityTotal.Inc()
		st.logger.Warn("principal face has low clarity", zap.Int("face_count", len(faces)))
	}

	return st.apply(func(s *Session) {
		s.DetectedFaces = append([]domain.Face(nil), faces...)
		s.ValidatedFace = result.Face
		s.LowClarity = result.LowClarity
		s.State = StateFaceValidated
	})
}

// SelectFilter transforms the validated face with a filter. It is accepted
// after validation and again after a finished transform; any previous result
// is cleared before the request is issued.
func (c *Controller) SelectFilter(ctx context.Context, filterID string) error {
	var (
		req        domain.TransformationRequest
		faceCount  int
		lowClarity bool
	)
	allowed := []State{StateFaceValidated, StateTransformSucceeded, StateTransformFailed}
	st, err := c.begin(ctx, "transform", false, allowed, func(s *Session) error {
		if s.ValidatedFace == nil {
			return fmt.Errorf("%w: no validated face", ErrInvalidTransition)
		}
		s.SelectedFilterID = filterID
		s.TransformedURI = ""
		s.SavedAssetID = ""
		s.clearError()
		s.State = StateTransforming

		req = domain.TransformationRequest{ImageURI: s.NormalizedURI, Face: *s.ValidatedFace, FilterID: filterID}
		faceCount = len(s.DetectedFaces)
		lowClarity = s.LowClarity
		return nil
	})
	if err != nil {
		return err
	}
	defer st.end()

	st.span.SetAttributes(attribute.String("transform.filter_id", filterID))
	started := time.Now()
	result, err := c.transformer.Transform(st.ctx, req, func(inProgress bool) {
		c.progress(st, inProgress)
	})
	run := domain.RunLog{
		FilterID:   filterID,
		FaceCount:  faceCount,
		LowClarity: lowClarity,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		if err = st.fail(StateTransformFailed, err); !errors.Is(err, ErrStaleSession) {
			c.metrics.transformsTotal.WithLabelValues(filterID, string(domain.KindOf(err))).Inc()
			run.Outcome = domain.RunOutcomeFailed
			run.ErrorKind = string(domain.KindOf(err))
			c.recordRun(st, run)
		}
		return err
	}

	if err := st.apply(func(s *Session) {
		s.TransformedURI = result.TransformedURI
		s.State = StateTransformSucceeded
	}); err != nil {
		return err
	}
	c.metrics.transformsTotal.WithLabelValues(filterID, "").Inc()
	run.Outcome = domain.RunOutcomeTransformed
	c.recordRun(st, run)
	return nil
}

// Save writes the transformed image to the gallery and returns the asset id.
// The session stays in transform_succeeded whether or not the save worked.
func (c *Controller) Save(ctx context.Context) (string, error) {
	var uri string
	st, err := c.begin(ctx, "save", false, []State{StateTransformSucceeded}, func(s *Session) error {
		uri = s.TransformedURI
		s.clearError()
		s.State = StateSaving
		return nil
	})
	if err != nil {
		return "", err
	}
	defer st.end()

	if c.gallery == nil {
		return "", st.fail(StateTransformSucceeded, domain.NewError(domain.KindStorage, "Saving to the gallery is not available.", nil))
	}
	if err := permission.Ensure(st.ctx, c.permissions, permission.CapabilityMediaLibrary); err != nil {
		return "", st.fail(StateTransformSucceeded, err)
	}

	assetID, err := c.gallery.Save(st.ctx, uri)
	if err != nil {
		return "", st.fail(StateTransformSucceeded, err)
	}
	if err := st.apply(func(s *Session) {
		s.SavedAssetID = assetID
		s.State = StateTransformSucceeded
	}); err != nil {
		return "", err
	}
	st.logger.Info("image saved", zap.String("asset_id", assetID))
	return assetID, nil
}

// Share hands the transformed image to the share surface. Like Save it
// returns the session to transform_succeeded.
func (c *Controller) Share(ctx context.Context, opts share.Options) error {
	var uri string
	st, err := c.begin(ctx, "share", false, []State{StateTransformSucceeded}, func(s *Session) error {
		uri = s.TransformedURI
		s.clearError()
		s.State = StateSharing
		return nil
	})
	if err != nil {
		return err
	}
	defer st.end()

	if c.share == nil || !c.share.Available(st.ctx) {
		return st.fail(StateTransformSucceeded, domain.NewError(domain.KindShareUnavailable, "Sharing is not available on this device.", nil))
	}
	if err := c.share.Share(st.ctx, uri, opts); err != nil {
		return st.fail(StateTransformSucceeded, err)
	}
	return st.apply(func(s *Session) {
		s.State = StateTransformSucceeded
	})
}

// begin claims the controller for one stage. fresh starts a new session,
// discarding the previous one. prepare runs under the lock and may reject the
// transition before mutating the session.
func (c *Controller) begin(ctx context.Context, name string, fresh bool, allowed []State, prepare func(*Session) error) (*stage, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if !slices.Contains(allowed, c.session.State) {
		state := c.session.State
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, name, state)
	}
	if fresh {
		c.generation++
		c.session = Session{ID: id.New(), State: c.session.State}
	}
	if err := prepare(&c.session); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	stageCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancel = cancel
	st := &stage{
		c:          c,
		name:       name,
		cancel:     cancel,
		generation: c.generation,
		sessionID:  c.session.ID,
		started:    time.Now(),
		logger:     logging.WithOperation(c.logger, name, c.session.ID),
	}
	snapshot := c.session.clone()
	c.mu.Unlock()

	st.ctx, st.span = c.tracer.Start(stageCtx, "workflow."+name)
	st.span.SetAttributes(attribute.String("session.id", st.sessionID))
	c.metrics.activeStages.Inc()
	st.logger.Debug("stage started", zap.String("state", string(snapshot.State)))
	c.notify(Event{Type: EventSessionChanged, Session: snapshot})
	return st, nil
}

func (c *Controller) progress(st *stage, inProgress bool) {
	c.mu.Lock()
	if c.generation != st.generation {
		c.mu.Unlock()
		return
	}
	snapshot := c.session.clone()
	c.mu.Unlock()
	c.notify(Event{Type: EventTransformProgress, Session: snapshot, InProgress: inProgress})
}

func (c *Controller) notify(event Event) {
	c.mu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o.fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(event)
	}
}

func (c *Controller) recordRun(st *stage, run domain.RunLog) {
	if c.runs == nil {
		return
	}
	run.SessionID = st.sessionID
	run.CreatedAt = time.Now().UTC()
	if err := c.runs.Record(st.ctx, run); err != nil {
		st.logger.Warn("record run failed", zap.Error(err))
	}
}

type stage struct {
	c          *Controller
	name       string
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	sessionID  string
	started    time.Time
	span       trace.Span
	logger     *zap.Logger
	outcome    string
}

// apply mutates the session if it still belongs to this stage.
func (st *stage) apply(update func(*Session)) error {
	c := st.c
	c.mu.Lock()
	if c.generation != st.generation {
		c.mu.Unlock()
		st.outcome = "stale"
		return ErrStaleSession
	}
	update(&c.session)
	snapshot := c.session.clone()
	c.mu.Unlock()

	c.notify(Event{Type: EventSessionChanged, Session: snapshot})
	return nil
}

// fail moves the session to state with err's message as LastError.
func (st *stage) fail(state State, err error) error {
	if applyErr := st.apply(func(s *Session) {
		s.State = state
		s.setError(err)
	}); applyErr != nil {
		return applyErr
	}

	st.outcome = "failed"
	st.span.RecordError(err)
	st.span.SetStatus(codes.Error, string(domain.KindOf(err)))
	st.logger.Warn("stage failed",
		zap.String("state", string(state)),
		zap.String("error_kind", string(domain.KindOf(err))),
		zap.Error(err),
	)
	return logging.NewOperationError(st.name, st.sessionID, err)
}

func (st *stage) rejectFace(err error, faceCount int) error {
	err = st.fail(StateFaceInvalid, err)
	if !errors.Is(err, ErrStaleSession) {
		st.c.recordRun(st, domain.RunLog{
			Outcome:    domain.RunOutcomeFaceInvalid,
			ErrorKind:  string(domain.KindOf(err)),
			FaceCount:  faceCount,
			DurationMS: time.Since(st.started).Milliseconds(),
		})
	}
	return err
}

// end releases the controller unless a reset already did.
func (st *stage) end() {
	c := st.c
	c.mu.Lock()
	if c.generation == st.generation {
		c.busy = false
		c.cancel = nil
	}
	c.mu.Unlock()
	st.cancel()

	outcome := st.outcome
	if outcome == "" {
		outcome = "ok"
	}
	if outcome == "stale" {
		c.metrics.staleTotal.Inc()
	}
	c.metrics.activeStages.Dec()
	c.metrics.stagesTotal.WithLabelValues(st.name, outcome).Inc()
	c.metrics.stageDuration.WithLabelValues(st.name, outcome).Observe(time.Since(st.started).Seconds())
	st.span.SetAttributes(attribute.String("workflow.outcome", outcome))
	st.span.End()
	st.logger.Debug("stage finished", zap.String("outcome", outcome))
}
