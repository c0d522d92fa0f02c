package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dunamismax/facefilter/internal/capture"
	"github.com/dunamismax/facefilter/internal/catalog"
	"github.com/dunamismax/facefilter/internal/config"
	"github.com/dunamismax/facefilter/internal/face"
	"github.com/dunamismax/facefilter/internal/gallery"
	"github.com/dunamismax/facefilter/internal/normalize"
	"github.com/dunamismax/facefilter/internal/permission"
	"github.com/dunamismax/facefilter/internal/ratelimit"
	"github.com/dunamismax/facefilter/internal/share"
	"github.com/dunamismax/facefilter/internal/storage"
	"github.com/dunamismax/facefilter/internal/store"
	"github.com/dunamismax/facefilter/internal/transform"
	"github.com/dunamismax/facefilter/internal/workflow"
)

// app holds what the root command builds once per invocation.
type app struct {
	cfg             config.Config
	logger          *zap.Logger
	metrics         *workflow.Metrics
	shutdownTracing func(context.Context) error
	storageClient   *storage.Client
	closers         []func() error
}

func (a *app) storage() (*storage.Client, error) {
	if a.storageClient != nil {
		return a.storageClient, nil
	}
	client, err := storage.NewClient(storage.Config{
		Endpoint: a.cfg.Storage.Endpoint,
		Access:   a.cfg.Storage.AccessKey,
		Secret:   a.cfg.Storage.SecretKey,
		Bucket:   a.cfg.Storage.Bucket,
		UseSSL:   a.cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize storage client: %w", err)
	}
	a.storageClient = client
	return client, nil
}

func (a *app) catalogSource() (catalog.Source, error) {
	switch {
	case a.cfg.Catalog.Object != "":
		client, err := a.storage()
		if err != nil {
			return nil, err
		}
		return &catalog.ObjectStoreSource{Storage: client, ObjectKey: a.cfg.Catalog.Object}, nil
	case a.cfg.Catalog.File != "":
		return catalog.LoadFile(a.cfg.Catalog.File)
	default:
		return catalog.Default(), nil
	}
}

func (a *app) transformBackend() transform.Backend {
	if a.cfg.Transform.Simulate {
		return transform.NewSimulator(a.cfg.Transform.SimulatedLatency)
	}
	return transform.NewHTTPBackend(a.transformSettings(), nil).WithResultDir(a.cfg.Transform.ResultDir)
}

func (a *app) transformSettings() transform.Settings {
	return transform.Settings{
		APIKey:   a.cfg.Transform.APIKey,
		Endpoint: a.cfg.Transform.Endpoint,
		Timeout:  a.cfg.Transform.Timeout,
	}
}

func (a *app) requester(src catalog.Source) (*transform.Requester, error) {
	backend := a.transformBackend()
	r := transform.NewRequester(a.transformSettings(), src, backend, a.logger.Named("transform"))
	if !a.cfg.RateLimit.Enabled() {
		return r, nil
	}

	client := ratelimit.NewRedisClient(a.cfg.RateLimit.RedisAddr, a.cfg.RateLimit.RedisPassword, a.cfg.RateLimit.RedisDB)
	a.closers = append(a.closers, client.Close)
	bucket, err := ratelimit.NewRedisTokenBucket(client, a.cfg.RateLimit.Limit, a.cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("initialize rate limiter: %w", err)
	}
	return r.WithLimiter(bucket, backend.Name()), nil
}

func (a *app) galleryWriter(ctx context.Context) (gallery.Writer, error) {
	if a.cfg.Gallery.Backend != config.GalleryBackendObject {
		return gallery.LocalWriter{Dir: a.cfg.Gallery.Dir}, nil
	}
	client, err := a.storage()
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure gallery bucket: %w", err)
	}
	return gallery.ObjectStoreWriter{Storage: client, Prefix: a.cfg.Gallery.Prefix}, nil
}

func (a *app) runStore(ctx context.Context) (store.RunStore, error) {
	if a.cfg.Database.DSN == "" {
		return store.NewMemoryRunStore(), nil
	}
	s, err := store.NewPostgresRunStore(ctx, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("initialize run store: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) permissionGate() (*permission.StaticGate, error) {
	gate, err := permission.NewStaticGate(a.cfg.Permissions.Denied)
	if err != nil {
		return nil, fmt.Errorf("parse PERMISSIONS_DENIED: %w", err)
	}
	gate.OnOpenSettings = func(c permission.Capability) {
		fmt.Fprintf(os.Stderr, "%s access is blocked. Enable it in system settings and try again.\n", c)
	}
	return gate, nil
}

// controller wires every collaborator for one session. imagePath feeds the
// picker; an empty path makes a pick behave as cancelled.
func (a *app) controller(ctx context.Context, imagePath string) (*workflow.Controller, error) {
	if err := normalize.Startup(); err != nil {
		return nil, fmt.Errorf("start image codec: %w", err)
	}
	a.closers = append(a.closers, func() error {
		normalize.Shutdown()
		return nil
	})

	normalizer, err := normalize.NewFileNormalizer(a.cfg.Normalize.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize normalizer: %w", err)
	}
	src, err := a.catalogSource()
	if err != nil {
		return nil, err
	}
	requester, err := a.requester(src)
	if err != nil {
		return nil, err
	}
	writer, err := a.galleryWriter(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := a.runStore(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := a.permissionGate()
	if err != nil {
		return nil, err
	}

	return workflow.NewController(workflow.Deps{
		Camera: capture.CommandCamera{
			Command:   a.cfg.Capture.Command,
			OutputDir: a.cfg.Capture.OutputDir,
		},
		Picker:     capture.PathPicker{Path: imagePath},
		Normalizer: normalizer,
		NormalizeOptions: normalize.Options{
			MaxDimension: a.cfg.Normalize.MaxDimension,
			Quality:      a.cfg.Normalize.Quality,
		},
		Detector:      face.CommandDetector{Command: a.cfg.Detector.Command},
		DetectOptions: face.DefaultDetectOptions(),
		Catalog:       src,
		Transformer:   requester,
		Gallery:       writer,
		Share: share.NewWebhookSurface(share.Config{
			Endpoint:      a.cfg.Share.WebhookURL,
			SigningSecret: a.cfg.Share.SigningSecret,
			Timeout:       a.cfg.Share.Timeout,
		}),
		Permissions: gate,
		Runs:        runs,
		Metrics:     a.metrics,
		Logger:      a.logger.Named("workflow"),
	})
}
