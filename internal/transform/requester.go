package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/facefilter/internal/catalog"
	"github.com/dunamismax/facefilter/internal/domain"
	"github.com/dunamismax/facefilter/internal/ratelimit"
)

const DefaultTimeout = 60 * time.Second

// ProgressFunc is told when a transform call starts and finishes. It is
// scoped to one call.
type ProgressFunc func(inProgress bool)

// Call is what a backend needs to produce one transformed image.
type Call struct {
	ImageURI string
	Face     domain.Face
	Filter   domain.Filter
}

// Backend performs the generative edit and returns the URI of the result.
// Errors should be *domain.Error values; anything else is reported as a
// network failure.
type Backend interface {
	Name() string
	Transform(ctx context.Context, call Call) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// Settings are the externally supplied service settings. The transform
// feature is disabled unless both APIKey and Endpoint are set.
type Settings struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

func (s Settings) configured() bool {
	return strings.TrimSpace(s.APIKey) != "" && strings.TrimSpace(s.Endpoint) != ""
}

type Requester struct {
	settings     Settings
	catalog      catalog.Source
	backend      Backend
	limiter      Limiter
	limitSubject string
	tracer       trace.Tracer
	logger       *zap.Logger
}

func NewRequester(settings Settings, src catalog.Source, backend Backend, logger *zap.Logger) *Requester {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Requester{
		settings: settings,
		catalog:  src,
		backend:  backend,
		tracer:   otel.Tracer("github.com/dunamismax/facefilter/internal/transform"),
		logger:   logger,
	}
}

// WithLimiter meters calls that pass the configuration and filter checks.
func (r *Requester) WithLimiter(limiter Limiter, subject string) *Requester {
	r.limiter = limiter
	r.limitSubject = subject
	return r
}

func (r *Requester) Transform(ctx context.Context, req domain.TransformationRequest, progress ProgressFunc) (domain.TransformationResult, error) {
	if !r.settings.configured() {
		return domain.TransformationResult{}, domain.NewError(domain.KindConfiguration, "Transformation service is not configured.", nil)
	}

	filter, ok, err := catalog.Lookup(ctx, r.catalog, req.FilterID)
	if err != nil {
		if ctx.Err() != nil {
			return domain.TransformationResult{}, ctx.Err()
		}
		r.logger.Warn("filter catalog unavailable", zap.String("filter_id", req.FilterID), zap.Error(err))
		return domain.TransformationResult{}, domain.NewError(domain.KindStorage, "Could not load the filter catalog.", err)
	}
	if !ok || strings.TrimSpace(filter.PromptHint) == "" {
		return domain.TransformationResult{}, domain.NewError(domain.KindFilterNotFound, "Filter not found or has no prompt.", nil)
	}

	if err := req.Validate(); err != nil {
		return domain.TransformationResult{}, domain.NewError(domain.KindAPI, "Invalid transformation request.", err)
	}

	if err := r.checkLimit(ctx); err != nil {
		return domain.TransformationResult{}, err
	}

	ctx, span := r.tracer.Start(ctx, "transform.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("transform.backend", r.backend.Name()),
		attribute.String("transform.filter_id", filter.ID),
	)
	defer span.End()

	if progress != nil {
		progress(true)
		defer progress(false)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.settings.Timeout)
	defer cancel()

	started := time.Now()
	uri, err := r.backend.Transform(callCtx, Call{
		ImageURI: req.ImageURI,
		Face:     req.Face,
		Filter:   filter,
	})
	if err != nil {
		err = r.classify(ctx, callCtx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		r.logger.Warn("transform failed",
			zap.String("backend", r.backend.Name()),
			zap.String("filter_id", filter.ID),
			zap.String("error_kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return domain.TransformationResult{}, err
	}

	r.logger.Info("transform succeeded",
		zap.String("backend", r.backend.Name()),
		zap.String("filter_id", filter.ID),
		zap.Duration("duration", time.Since(started)),
	)
	return domain.TransformationResult{TransformedURI: uri, FilterID: filter.ID}, nil
}

func (r *Requester) checkLimit(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	decision, err := r.limiter.Allow(ctx, r.limitSubject)
	if err != nil {
		r.logger.Warn("rate limiter check failed", zap.String("subject", r.limitSubject), zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		r.logger.Info("transform budget exhausted",
			zap.String("subject", r.limitSubject),
			zap.Duration("retry_after", decision.RetryAfter),
		)
		return domain.NewError(domain.KindAPI, "rate limit exceeded", fmt.Errorf("retry after %s", decision.RetryAfter))
	}
	r.logger.Debug("transform budget",
		zap.String("subject", r.limitSubject),
		zap.Int64("remaining", decision.Remaining),
	)
	return nil
}

// classify maps a backend failure onto the error taxonomy. A cancelled
// parent context is returned as is; the caller abandoned the call.
func (r *Requester) classify(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return domain.NewError(domain.KindNetwork, "The transformation timed out.", err)
	}
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.NewError(domain.KindNetwork, "Could not reach the transformation service.", err)
}
